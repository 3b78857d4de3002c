package model

import "time"

// LoginAttempt 登录尝试计数，窗口到期后自动失效
type LoginAttempt struct {
	PhoneHash    string    `json:"-"`
	Count        int       `json:"count"`
	WindowExpiry time.Time `json:"expires"`
}

// PendingPin 待验证的一次性 PIN
type PendingPin struct {
	Phone  string    `json:"-"`
	Pin    string    `json:"pin"`
	Expiry time.Time `json:"expires"`
}

// BanEntry 封禁记录，subject 为 IP 或手机号哈希，无过期时间
type BanEntry struct {
	Subject string    `json:"subject"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// MuteSet 屏蔽列表，仅由 Muter 本人修改；存储形式为 {uid: uid}
type MuteSet struct {
	MuterID string
	Muted   map[string]string
}

func (m MuteSet) Has(uid string) bool {
	_, ok := m.Muted[uid]
	return ok
}
