// Package player implements the records of idle game participants.
//
// A player accrues idle time while online and levels up each time its
// countdown to the next level reaches zero. Penalties push the countdown back
// by an amount that grows with the player's level.
package player

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-json-experiment/json"
	"golang.org/x/crypto/bcrypt"
)

// Curve describes the growth of level and penalty durations.
// All players of a game share one curve.
type Curve struct {
	// Base is the number of seconds to go from level 0 to level 1.
	Base float64
	// Step is the growth factor of each level's duration.
	Step float64
	// PStep is the growth factor of penalties per level.
	PStep float64
	// PenaltyLimit caps a single penalty in seconds.
	// Zero or negative means penalties are unlimited.
	PenaltyLimit int64
}

// LevelTime returns the number of seconds needed to advance from the given
// level to the next.
func (c *Curve) LevelTime(level int) int64 {
	return int64(math.Round(c.Base * math.Pow(c.Step, float64(level))))
}

// Penalty scales a raw penalty for a player of the given level.
func (c *Curve) Penalty(raw int64, level int) int64 {
	p := int64(math.Round(float64(raw) * math.Pow(c.PStep, float64(level))))
	if c.PenaltyLimit > 0 && p > c.PenaltyLimit {
		p = c.PenaltyLimit
	}
	return p
}

// Player is a single game participant.
// A Player is not safe for concurrent use; the game owns its players.
type Player struct {
	curve *Curve

	name  string
	pass  string
	class string

	online    bool
	admin     bool
	level     int
	next      int64
	idled     int64
	penalties int64
	lastLogin time.Time

	items Equipment
}

// ErrBadPassword is returned when a password cannot be used.
var ErrBadPassword = errors.New("unusable password")

// New creates a fresh level 0 player. The player is offline and has no
// password until one is set.
func New(curve *Curve, name, class string) *Player {
	return &Player{
		curve: curve,
		name:  name,
		class: class,
		next:  curve.LevelTime(0),
	}
}

func (p *Player) Name() string         { return p.name }
func (p *Player) Class() string        { return p.class }
func (p *Player) Level() int           { return p.level }
func (p *Player) Online() bool         { return p.online }
func (p *Player) Admin() bool          { return p.admin }
func (p *Player) Next() int64          { return p.next }
func (p *Player) Idled() int64         { return p.idled }
func (p *Player) Penalties() int64     { return p.penalties }
func (p *Player) LastLogin() time.Time { return p.lastLogin }

// SetAdmin grants or revokes game admin rights.
func (p *Player) SetAdmin(admin bool) { p.admin = admin }

// Update advances the player's clock by elapsed seconds.
// It reports whether the player gained a level. Offline players are
// unaffected. At most one level is awarded per call; an overshoot carries
// into the next level's countdown.
func (p *Player) Update(elapsed int64) bool {
	if !p.online {
		return false
	}
	p.idled += elapsed
	p.next -= elapsed
	if p.next > 0 {
		return false
	}
	p.level++
	p.next += p.curve.LevelTime(p.level)
	return true
}

// Penalize applies a raw penalty scaled by the player's level and returns the
// number of seconds actually added to the countdown.
func (p *Player) Penalize(raw int64) int64 {
	pen := p.curve.Penalty(raw, p.level)
	p.next += pen
	p.penalties += pen
	return pen
}

// Adjust moves the countdown to the next level by delta seconds without
// counting as a penalty. Negative values bring the next level closer.
func (p *Player) Adjust(delta int64) {
	p.next += delta
}

// Login marks the player online at the given time.
// It reports false if the player was already online.
func (p *Player) Login(now time.Time) bool {
	if p.online {
		return false
	}
	p.online = true
	p.lastLogin = now
	return true
}

// Logout marks the player offline.
func (p *Player) Logout() {
	p.online = false
}

// SetPassword hashes and stores a new password.
func (p *Player) SetPassword(pass string) error {
	h, err := HashPassword(pass)
	if err != nil {
		return err
	}
	p.pass = h
	return nil
}

// SetPasswordHash stores an already hashed password.
func (p *Player) SetPasswordHash(hash string) { p.pass = hash }

// PasswordHash returns the stored password hash.
func (p *Player) PasswordHash() string { return p.pass }

// PasswordMatch reports whether pass is the player's password.
func (p *Player) PasswordMatch(pass string) bool {
	return CheckPassword(p.pass, pass)
}

// HashPassword hashes a password for storage.
func HashPassword(pass string) (string, error) {
	if pass == "" {
		return "", ErrBadPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pass), cost)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadPassword, err)
	}
	return string(h), nil
}

// CheckPassword reports whether pass matches a hash produced by HashPassword.
func CheckPassword(hash, pass string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
}

// cost is the bcrypt cost of new password hashes.
var cost = bcrypt.DefaultCost

// Item returns the level of the item in a slot, or 0 if the slot is empty.
func (p *Player) Item(s Slot) int {
	if !s.valid() {
		return 0
	}
	return p.items[s]
}

// SetItem places an item of the given level in a slot.
func (p *Player) SetItem(s Slot, level int) {
	if !s.valid() {
		return
	}
	p.items[s] = level
}

// ItemSum is the total level of all equipped items.
func (p *Player) ItemSum() int {
	var n int
	for _, v := range p.items {
		n += v
	}
	return n
}

// Record is the persisted form of a player.
type Record struct {
	Name      string `json:"name"`
	Pass      string `json:"pass"`
	Class     string `json:"class"`
	Online    bool   `json:"online"`
	Level     int    `json:"level"`
	Next      int64  `json:"next"`
	Idled     int64  `json:"idled"`
	Penalties int64  `json:"penalties"`
	// LastLogin is a Unix timestamp in seconds.
	LastLogin int64 `json:"lastLogin"`
	IsAdmin   bool  `json:"isAdmin"`
	// Items is a JSON object mapping slot names to item levels.
	Items string `json:"items"`
}

// Record serializes the player.
func (p *Player) Record() Record {
	r := Record{
		Name:      p.name,
		Pass:      p.pass,
		Class:     p.class,
		Online:    p.online,
		Level:     p.level,
		Next:      p.next,
		Idled:     p.idled,
		Penalties: p.penalties,
		IsAdmin:   p.admin,
		Items:     p.items.encode(),
	}
	if !p.lastLogin.IsZero() {
		r.LastLogin = p.lastLogin.Unix()
	}
	return r
}

// Load restores a player from its record. All fields of the record apply,
// including zero values.
func Load(curve *Curve, r Record) (*Player, error) {
	p := &Player{
		curve:     curve,
		name:      r.Name,
		pass:      r.Pass,
		class:     r.Class,
		online:    r.Online,
		admin:     r.IsAdmin,
		level:     r.Level,
		next:      r.Next,
		idled:     r.Idled,
		penalties: r.Penalties,
	}
	if r.LastLogin != 0 {
		p.lastLogin = time.Unix(r.LastLogin, 0)
	}
	eq, err := r.Equipment()
	if err != nil {
		return p, err
	}
	p.items = eq
	return p, nil
}

// Equipment decodes the record's items.
func (r Record) Equipment() (Equipment, error) {
	var eq Equipment
	if r.Items == "" {
		return eq, nil
	}
	var v itemsJSON
	if err := json.Unmarshal([]byte(r.Items), &v); err != nil {
		return eq, fmt.Errorf("couldn't decode items of %s: %w", r.Name, err)
	}
	v.to(&eq)
	return eq, nil
}
