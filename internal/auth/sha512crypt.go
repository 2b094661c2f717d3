package auth

import (
	"crypto/sha512"
	"fmt"
	"strings"
)

// sha512Crypt implements the glibc crypt(3) SHA-512 algorithm
// ($6$salt$hash). No library in the retrieval pack implements
// crypt(3)-family hashing (see DESIGN.md); this is a direct,
// from-spec implementation over crypto/sha512 only.
//
// Reference: Ulrich Drepper, "Unix crypt using SHA-256/SHA-512",
// the public algorithm description that glibc's crypt_r implements.
const sha512CryptRounds = 5000

func sha512Crypt(password, salt string) string {
	pw, s := []byte(password), []byte(salt)
	pl := len(pw)

	digestB := sha512.Sum512(append(append(append([]byte{}, pw...), s...), pw...))

	ctxA := sha512.New()
	ctxA.Write(pw)
	ctxA.Write(s)
	for n := pl; n > 0; n -= sha512.Size {
		take := n
		if take > sha512.Size {
			take = sha512.Size
		}
		ctxA.Write(digestB[:take])
	}
	for n := pl; n > 0; n >>= 1 {
		if n&1 != 0 {
			ctxA.Write(digestB[:])
		} else {
			ctxA.Write(pw)
		}
	}
	a := ctxA.Sum(nil)

	ctxDP := sha512.New()
	for i := 0; i < pl; i++ {
		ctxDP.Write(pw)
	}
	pSeq := repeatToLen(ctxDP.Sum(nil), pl)

	ctxDS := sha512.New()
	for i := 0; i < 16+int(a[0]); i++ {
		ctxDS.Write(s)
	}
	sSeq := repeatToLen(ctxDS.Sum(nil), len(s))

	aa := a
	for round := 0; round < sha512CryptRounds; round++ {
		h := sha512.New()
		if round%2 != 0 {
			h.Write(pSeq)
		} else {
			h.Write(aa)
		}
		if round%3 != 0 {
			h.Write(sSeq)
		}
		if round%7 != 0 {
			h.Write(pSeq)
		}
		if round%2 != 0 {
			h.Write(aa)
		} else {
			h.Write(pSeq)
		}
		aa = h.Sum(nil)
	}

	return "$6$" + salt + "$" + encodeSha512Crypt(aa)
}

func repeatToLen(src []byte, n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n {
		remaining := n - len(out)
		if remaining >= len(src) {
			out = append(out, src...)
		} else {
			out = append(out, src[:remaining]...)
		}
	}
	return out
}

const cryptB64Alphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// sha512CryptPermutation is the byte permutation the algorithm
// base64-encodes three-at-a-time, specific to the SHA-512 variant.
var sha512CryptPermutation = [][3]int{
	{0, 21, 42}, {22, 43, 1}, {44, 2, 23}, {3, 24, 45}, {25, 46, 4},
	{47, 5, 26}, {6, 27, 48}, {28, 49, 7}, {50, 8, 29}, {9, 30, 51},
	{31, 52, 10}, {53, 11, 32}, {12, 33, 54}, {34, 55, 13}, {56, 14, 35},
	{15, 36, 57}, {37, 58, 16}, {59, 17, 38}, {18, 39, 60}, {40, 61, 19},
	{62, 20, 41},
}

func encodeSha512Crypt(sum []byte) string {
	var sb strings.Builder
	for _, grp := range sha512CryptPermutation {
		encode3(&sb, sum[grp[0]], sum[grp[1]], sum[grp[2]], 4)
	}
	encode3(&sb, 0, 0, sum[63], 2)
	return sb.String()
}

func encode3(sb *strings.Builder, b2, b1, b0 byte, n int) {
	v := uint32(b2)<<16 | uint32(b1)<<8 | uint32(b0)
	for i := 0; i < n; i++ {
		sb.WriteByte(cryptB64Alphabet[v&0x3f])
		v >>= 6
	}
}

// verifySha512Crypt checks password against a "$6$salt$hash" string.
func verifySha512Crypt(password, encoded string) bool {
	parts := strings.SplitN(encoded, "$", 4)
	if len(parts) != 4 || parts[1] != "6" {
		return false
	}
	salt := parts[2]
	// glibc caps the salt at 16 chars; rounds= prefix is not
	// supported here since dufs-style configs use bare salts.
	if len(salt) > 16 {
		salt = salt[:16]
	}
	candidate := sha512Crypt(password, salt)
	return constantTimeEqual(candidate, fmt.Sprintf("$6$%s$%s", salt, parts[3]))
}
