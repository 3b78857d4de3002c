package service

import (
	"encoding/hex"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"
)

var validate = validator.New()

var phoneStrip = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone 规范化为 E.164：十位数字补 +1，否则补前导 +
func NormalizePhone(raw string) (string, error) {
	p := phoneStrip.Replace(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "+")
	if len(p) == 10 {
		p = "1" + p
	}
	p = "+" + p
	if err := validate.Var(p, "required,e164"); err != nil {
		return "", ErrInvalidPhone
	}
	return p, nil
}

// PhoneHasher derives the stable, salted identifier stored in place of a
// phone number.
type PhoneHasher struct {
	key []byte
}

func NewPhoneHasher(salt string) PhoneHasher {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return PhoneHasher{key: key}
}

func (h PhoneHasher) Hash(phone string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// key length is bounded in NewPhoneHasher
		panic(err)
	}
	mac.Write([]byte(phone))
	return hex.EncodeToString(mac.Sum(nil))
}
