package game

import "math/rand"

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I) so codes
// survive being read aloud or scribbled on a whiteboard.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeLength      = 6
	maxCodeAttempts = 5
)

// generateCode returns a random join code. Uniqueness among non-terminal
// sessions is enforced by the store at creation; Create retries on
// collision up to maxCodeAttempts.
func generateCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}
