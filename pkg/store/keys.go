package store

import "strings"

// Class names an entity key space.
type Class string

const (
	ClassUsers   Class = "Users"
	ClassBooks   Class = "Books"
	ClassHistory Class = "BookSearchHistory"
	ClassCart    Class = "BookShop"
)

const (
	keySep    = ':'
	keyEscape = '\\'
)

// Key builds the store key for class and its arguments. Arguments are escaped
// so that a separator inside an account name or title cannot make two
// distinct argument lists share a key. For arguments free of ':' and '\' the
// result is plain "Class:arg1:arg2".
func Key(class Class, args ...string) string {
	if len(args) == 0 {
		return string(class)
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, string(class))
	for _, arg := range args {
		parts = append(parts, escapeKeyPart(arg))
	}
	return strings.Join(parts, string(keySep))
}

// BookRef is the field of a book in the Books hash and the member of a book in
// a cart. name and author are used as given; callers trim beforehand.
func BookRef(name, author string) string {
	return escapeKeyPart(name) + string(keySep) + escapeKeyPart(author)
}

// SplitBookRef reverses BookRef.
func SplitBookRef(ref string) (name, author string, ok bool) {
	parts := splitKeyParts(ref)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func escapeKeyPart(s string) string {
	if !strings.ContainsAny(s, `:\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if r == keySep || r == keyEscape {
			b.WriteRune(keyEscape)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitKeyParts(s string) []string {
	var (
		parts   []string
		cur     strings.Builder
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == keyEscape:
			escaped = true
		case r == keySep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil
	}
	return append(parts, cur.String())
}
