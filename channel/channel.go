// Package channel tracks per-channel game settings.
package channel

import (
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/go-json-experiment/json"
)

// Category is a kind of game announcement that channels can opt out of.
type Category int

// Force bypasses per-channel notice settings. Disabled channels still receive
// nothing.
const Force Category = -1

const (
	Start Category = iota
	Level
	Top
	Battle
	Login
	Join
	Del
	Admin
	Push

	ncategories
)

var categoryNames = [ncategories]string{"start", "level", "top", "battle", "login", "join", "del", "admin", "push"}

// optionNames are the stored option keys for each category.
var optionNames = [ncategories]string{
	"noticeStart",
	"noticeLevelUps",
	"noticeTopPlayers",
	"noticeBattles",
	"noticeLogin",
	"noticeWelcome",
	"noticeDel",
	"noticeAdmin",
	"noticePush",
}

func (c Category) String() string {
	if c == Force {
		return "force"
	}
	if c < 0 || c >= ncategories {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory returns the category with the given short name.
func ParseCategory(name string) (Category, bool) {
	if name == "force" {
		return Force, true
	}
	for i, n := range categoryNames {
		if n == name {
			return Category(i), true
		}
	}
	return 0, false
}

// Categories lists the categories channels can toggle.
func Categories() []Category {
	r := make([]Category, ncategories)
	for i := range r {
		r[i] = Category(i)
	}
	return r
}

// Options is the game configuration of one channel.
type Options struct {
	// Enabled is whether the game runs in the channel at all.
	Enabled bool
	// quiet records categories the channel has opted out of, so the zero
	// value has every notice on.
	quiet [ncategories]bool
}

// Notice reports whether the channel wants announcements of a category.
// Force is always wanted.
func (o *Options) Notice(c Category) bool {
	if c == Force {
		return true
	}
	if c < 0 || c >= ncategories {
		return false
	}
	return !o.quiet[c]
}

// SetNotice turns a category of announcements on or off.
func (o *Options) SetNotice(c Category, on bool) {
	if c < 0 || c >= ncategories {
		return
	}
	o.quiet[c] = !on
}

// Encode serializes the options as a JSON object.
func (o *Options) Encode() ([]byte, error) {
	// Field order is fixed so encodings are stable.
	v := struct {
		Enabled          bool `json:"enabled"`
		NoticeStart      bool `json:"noticeStart"`
		NoticeLevelUps   bool `json:"noticeLevelUps"`
		NoticeTopPlayers bool `json:"noticeTopPlayers"`
		NoticeBattles    bool `json:"noticeBattles"`
		NoticeLogin      bool `json:"noticeLogin"`
		NoticeWelcome    bool `json:"noticeWelcome"`
		NoticeDel        bool `json:"noticeDel"`
		NoticeAdmin      bool `json:"noticeAdmin"`
		NoticePush       bool `json:"noticePush"`
	}{
		o.Enabled,
		o.Notice(Start),
		o.Notice(Level),
		o.Notice(Top),
		o.Notice(Battle),
		o.Notice(Login),
		o.Notice(Join),
		o.Notice(Del),
		o.Notice(Admin),
		o.Notice(Push),
	}
	return json.Marshal(&v)
}

// Decode applies a stored JSON object to o. Each known key present in the
// object overwrites the corresponding option. Values are coerced to booleans
// by truthiness: false, null, zero, NaN, and the empty string are false.
// Unknown keys are ignored.
func (o *Options) Decode(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("couldn't decode channel options: %w", err)
	}
	for k, v := range m {
		if k == "enabled" {
			o.Enabled = truthy(v)
			continue
		}
		if i := slices.Index(optionNames[:], k); i >= 0 {
			o.quiet[i] = !truthy(v)
		}
	}
	return nil
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	default:
		// Arrays and objects.
		return true
	}
}

// Key is the registry key of a channel on a network instance.
// Instance IDs must not contain underscores.
func Key(instance, channel string) string {
	return instance + "_" + channel
}

// SplitKey separates a registry key into its instance and channel.
func SplitKey(key string) (instance, channel string, ok bool) {
	return strings.Cut(key, "_")
}

// Registry holds the options of every channel the game knows.
// It is not safe for concurrent use.
type Registry struct {
	m map[string]*Options
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*Options)}
}

// Options returns the options of a channel, creating disabled defaults if the
// channel is new. Repeated calls return the same options.
func (r *Registry) Options(key string) *Options {
	o := r.m[key]
	if o == nil {
		o = new(Options)
		r.m[key] = o
	}
	return o
}

// Lookup returns the options of a channel without creating them.
func (r *Registry) Lookup(key string) (*Options, bool) {
	o, ok := r.m[key]
	return o, ok
}

// Exists reports whether the registry knows a channel.
func (r *Registry) Exists(key string) bool {
	_, ok := r.m[key]
	return ok
}

// Len returns the number of known channels.
func (r *Registry) Len() int {
	return len(r.m)
}

// All iterates channels in key order.
func (r *Registry) All() iter.Seq2[string, *Options] {
	return func(yield func(string, *Options) bool) {
		for _, k := range slices.Sorted(maps.Keys(r.m)) {
			if !yield(k, r.m[k]) {
				return
			}
		}
	}
}

// IsChannel reports whether a message target names a channel rather than a
// user.
func IsChannel(target string) bool {
	if len(target) < 1 || len(target) > 51 {
		return false
	}
	switch target[0] {
	case '#', '&', '+', '!':
	default:
		return false
	}
	return !strings.ContainsAny(target[1:], "\x07, \t\r\n\v\f")
}
