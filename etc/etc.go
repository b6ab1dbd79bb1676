package etc

import (
	"github.com/pion/randutil"
)

const idRunes = "abcdefghijklmnopqrstuvwxyz0123456789"

const idLength = 16

func NewFreshID() string {
	id, err := randutil.GenerateCryptoRandomString(idLength, idRunes)
	if err != nil {
		// crypto/rand only fails when the system has no entropy source
		panic(err)
	}
	return id
}
