package model

// Account 用户资料，主键为手机号哈希；SecondaryPhones 为附加手机号的哈希
type Account struct {
	UID             string   `json:"uid"`
	Phone           string   `json:"phone"`
	Name            string   `json:"name,omitempty"`
	Bio             string   `json:"bio,omitempty"`
	Websites        string   `json:"websites,omitempty"`
	ColorTag        string   `json:"hex,omitempty"`
	RepliesVisible  bool     `json:"showreplies"`
	SecondaryPhones []string `json:"secondary,omitempty"`
}

// HasSecondary reports whether phoneHash is linked to the account as an alias.
func (a *Account) HasSecondary(phoneHash string) bool {
	for _, p := range a.SecondaryPhones {
		if p == phoneHash {
			return true
		}
	}
	return false
}

// Identity 由外层会话提供的已认证身份
type Identity struct {
	UID        string
	Name       string
	Phone      string
	IsOperator bool
}

func (i Identity) Anonymous() bool { return i.UID == "" }
