package wopi

import (
	"errors"
	"strings"
	"unicode/utf16"
)

// Editors send target file names in UTF-7 (RFC 2152) so that they survive as
// HTTP header values.

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base64Alphabet); i++ {
		idx[base64Alphabet[i]] = int8(i)
	}
	return idx
}()

// ErrInvalidUTF7 is returned for malformed UTF-7 input.
var ErrInvalidUTF7 = errors.New("invalid UTF-7")

// DecodeUTF7 decodes a UTF-7 string.
func DecodeUTF7(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c >= 0x80 {
			return "", ErrInvalidUTF7
		}
		if c != '+' {
			b.WriteByte(c)
			i++
			continue
		}

		i++
		if i < len(s) && s[i] == '-' {
			b.WriteByte('+')
			i++
			continue
		}

		var (
			units []uint16
			acc   uint32
			nbits uint
		)
		for ; i < len(s) && base64Index[s[i]] >= 0; i++ {
			acc = acc<<6 | uint32(base64Index[s[i]])
			nbits += 6
			if nbits >= 16 {
				nbits -= 16
				units = append(units, uint16(acc>>nbits))
				acc &= 1<<nbits - 1
			}
		}
		// Leftover bits are padding and must be zero.
		if nbits >= 6 || acc != 0 {
			return "", ErrInvalidUTF7
		}
		if len(units) == 0 {
			return "", ErrInvalidUTF7
		}
		b.WriteString(string(utf16.Decode(units)))

		if i < len(s) && s[i] == '-' {
			i++
		}
	}
	return b.String(), nil
}

// EncodeUTF7 encodes s as UTF-7. Letters, digits, space and the RFC 2152
// set D punctuation are written directly.
func EncodeUTF7(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		if r == '+' {
			b.WriteString("+-")
			i++
			continue
		}
		if isDirect(r) {
			b.WriteRune(r)
			i++
			continue
		}

		j := i
		for j < len(runes) && !isDirect(runes[j]) && runes[j] != '+' {
			j++
		}
		b.WriteByte('+')
		writeModifiedBase64(&b, utf16.Encode(runes[i:j]))
		b.WriteByte('-')
		i = j
	}
	return b.String()
}

func writeModifiedBase64(b *strings.Builder, units []uint16) {
	var (
		acc   uint32
		nbits uint
	)
	for _, u := range units {
		acc = acc<<16 | uint32(u)
		nbits += 16
		for nbits >= 6 {
			nbits -= 6
			b.WriteByte(base64Alphabet[(acc>>nbits)&0x3f])
		}
		acc &= 1<<nbits - 1
	}
	if nbits > 0 {
		b.WriteByte(base64Alphabet[(acc<<(6-nbits))&0x3f])
	}
}

func isDirect(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(" '(),-./:?", r)
}
