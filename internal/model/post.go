package model

import "time"

// Post 帖子；全局键与作者键下各存一份，两份内容一致
type Post struct {
	ID            string    `json:"postid"`
	AuthorID      string    `json:"uid"`
	AuthorName    string    `json:"name"`
	CreatedAt     time.Time `json:"created"`
	Content       string    `json:"content"`
	Reply         string    `json:"reply,omitempty"`
	ReplyTargets  []string  `json:"replyto"`
	AllowsReplies bool      `json:"showreplies"`
}

// ReplyEdge 回复关系：Source 帖子回复了 Target 帖子
type ReplyEdge struct {
	TargetID   string    `json:"target"`
	SourceID   string    `json:"postid"`
	AuthorID   string    `json:"uid"`
	AuthorName string    `json:"name"`
	CreatedAt  time.Time `json:"created"`
}
