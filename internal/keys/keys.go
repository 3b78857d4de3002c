// Package keys encodes and parses the composite keys of the board's
// key-value layout. A key is a namespace followed by ordered fields, joined
// by '!'. The encoded form is byte-compatible with existing data, so
// lexicographic order of encoded keys is the order range scans rely on.
package keys

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Sep = "!"
	// High sorts after every byte a key field may contain; prefix + High is
	// the inclusive upper bound of a prefix scan.
	High = "\xff"
)

type Namespace string

const (
	Post         Namespace = "post"
	User         Namespace = "user"
	ReplyTo      Namespace = "replyto"
	UID          Namespace = "uid"
	Secondary    Namespace = "secondary"
	SecondaryRef Namespace = "secondaryRef"
	Mute         Namespace = "mute"
	Pin          Namespace = "pin"
	Login        Namespace = "login"
)

// arity is the field count for each namespace. User has two shapes:
// user!<phoneHash> in the profile bucket and user!<uid>!<id> in the posts
// bucket.
var arity = map[Namespace][]int{
	Post:         {1},
	User:         {1, 2},
	ReplyTo:      {2},
	UID:          {1},
	Secondary:    {1},
	SecondaryRef: {1},
	Mute:         {1},
	Pin:          {1},
	Login:        {1},
}

var (
	ErrMalformed        = errors.New("malformed key")
	ErrUnknownNamespace = errors.New("unknown key namespace")
	ErrInvalidField     = errors.New("key field must be non-empty and must not contain '!' or 0xff")
)

type Key struct {
	NS     Namespace
	Fields []string
}

func New(ns Namespace, fields ...string) (Key, error) {
	k := Key{NS: ns, Fields: fields}
	if err := k.validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Must is New for fields already known to be valid, such as generated ids.
func Must(ns Namespace, fields ...string) Key {
	k, err := New(ns, fields...)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) validate() error {
	counts, ok := arity[k.NS]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, k.NS)
	}
	valid := false
	for _, c := range counts {
		if c == len(k.Fields) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s expects %v fields, got %d", ErrMalformed, k.NS, counts, len(k.Fields))
	}
	for _, f := range k.Fields {
		if err := ValidField(f); err != nil {
			return err
		}
	}
	return nil
}

func ValidField(f string) error {
	if f == "" || strings.Contains(f, Sep) || strings.Contains(f, High) {
		return fmt.Errorf("%w: %q", ErrInvalidField, f)
	}
	return nil
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.NS))
	for _, f := range k.Fields {
		b.WriteString(Sep)
		b.WriteString(f)
	}
	return b.String()
}

// Last returns the final field, which for post-bearing keys is the post id.
func (k Key) Last() string {
	if len(k.Fields) == 0 {
		return ""
	}
	return k.Fields[len(k.Fields)-1]
}

func Parse(s string) (Key, error) {
	parts := strings.Split(s, Sep)
	if len(parts) < 2 {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	k := Key{NS: Namespace(parts[0]), Fields: parts[1:]}
	if err := k.validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Prefix builds "ns!f1!...!fn!", the scan prefix for every key under the
// given leading fields.
func Prefix(ns Namespace, fields ...string) string {
	var b strings.Builder
	b.WriteString(string(ns))
	b.WriteString(Sep)
	for _, f := range fields {
		b.WriteString(f)
		b.WriteString(Sep)
	}
	return b.String()
}

// Range bounds for a scan. Empty strings mean unbounded on that side.
// When both Lt and Lte are set, Lt wins; likewise Gt over Gte.
type Range struct {
	Gt, Gte string
	Lt, Lte string
	Limit   int
	Reverse bool
}

// Under returns the range covering every key that starts with prefix.
func Under(prefix string) Range {
	return Range{Gte: prefix, Lte: prefix + High}
}

// Contains reports whether key falls inside the bounds of r.
func (r Range) Contains(key string) bool {
	switch {
	case r.Gt != "":
		if key <= r.Gt {
			return false
		}
	case r.Gte != "":
		if key < r.Gte {
			return false
		}
	}
	switch {
	case r.Lt != "":
		if key >= r.Lt {
			return false
		}
	case r.Lte != "":
		if key > r.Lte {
			return false
		}
	}
	return true
}

// Constructors for the layout used across the repositories.

func PostKey(id string) Key { return Must(Post, id) }
func AuthorPostKey(uid, id string) Key { return Must(User, uid, id) }
func ReplyKey(target, source string) Key { return Must(ReplyTo, target, source) }
func ProfileKey(phoneHash string) Key { return Must(User, phoneHash) }
func UIDKey(uid string) Key { return Must(UID, uid) }
func SecondaryKey(phoneHash string) Key { return Must(Secondary, phoneHash) }
func SecondaryRefKey(phoneHash string) Key {
	return Must(SecondaryRef, phoneHash)
}
func MuteKey(uid string) Key { return Must(Mute, uid) }
func PinKey(phone string) Key { return Must(Pin, phone) }
func LoginKey(phoneHash string) Key { return Must(Login, phoneHash) }
