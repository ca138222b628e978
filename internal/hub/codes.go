package hub

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/DoyleJ11/tambola-backend/internal/engine"
)

const (
	RoomCodeLen   = 6
	PlayerCodeLen = 4
	maxCodeTries  = 32
	codeCharset   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var ErrCodeSpaceExhausted = errors.New("could not find a free code")

// GenerateCode returns n random uppercase alphanumerics.
func GenerateCode(n int) (string, error) {
	code := make([]byte, n)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

// Directory maps every live player code to its room. It is shared by all
// rooms, so it guards itself with a mutex; each call is a short map access.
type Directory struct {
	mu      sync.Mutex
	players map[string]string
	gen     func(n int) (string, error)
}

func NewDirectory() *Directory {
	return &Directory{players: make(map[string]string), gen: GenerateCode}
}

// Allocate reserves a fresh player code for roomCode. The chat host author
// is never handed out.
func (d *Directory) Allocate(roomCode string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for range maxCodeTries {
		code, err := d.gen(PlayerCodeLen)
		if err != nil {
			return "", fmt.Errorf("generate player code: %w", err)
		}
		if code == engine.HostAuthor {
			continue
		}
		if _, taken := d.players[code]; !taken {
			d.players[code] = roomCode
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func (d *Directory) Release(playerCode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.players, playerCode)
}

// Lookup returns the room a player code belongs to.
func (d *Directory) Lookup(playerCode string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.players[playerCode]
	return room, ok
}

// ReleaseRoom drops every code held by roomCode.
func (d *Directory) ReleaseRoom(roomCode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for code, room := range d.players {
		if room == roomCode {
			delete(d.players, code)
		}
	}
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.players)
}
