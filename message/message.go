// Package message describes chat traffic the game reacts to and sends.
package message

import (
	"fmt"
	"strings"
)

// Kind is the kind of a chat event.
type Kind int

const (
	// Other is any event the game does not track.
	Other Kind = iota
	// Privmsg is a message to a channel or a user.
	Privmsg
	// Notice is a notice to a channel or a user.
	Notice
	// Nick is a nickname change. Text is the new nick.
	Nick
	// Part is a user leaving a channel.
	Part
	// Kick is a user being removed from a channel. Target is the removed
	// user, and Nick is whoever removed them.
	Kick
	// Quit is a user disconnecting from the network.
	Quit
	// Welcome indicates that registration with the server is complete and
	// channels can be joined.
	Welcome
)

var kindNames = [...]string{"other", "privmsg", "notice", "nick", "part", "kick", "quit", "welcome"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Event is a chat event received from a network.
type Event struct {
	// Kind is the kind of event.
	Kind Kind
	// Nick is the nickname of the user who caused the event.
	Nick string
	// To is the channel or user to which the event is directed.
	To string
	// Text is the message text, new nickname, or part or quit reason.
	Text string
	// Target is the user affected by a kick.
	Target string
}

// Sent is a message to be sent to a network.
type Sent struct {
	// To is the channel or user to whom the message is sent.
	To string
	// Text is the message text.
	Text string
}

// formatString is a type to prevent misuse of format strings passed to [Format].
type formatString string

// Format constructs a message to send from a format string literal and
// formatting arguments.
func Format(to string, f formatString, args ...any) Sent {
	return Sent{
		To:   to,
		Text: strings.TrimSpace(fmt.Sprintf(string(f), args...)),
	}
}

// Tag prefixes every message the game sends.
const Tag = "IdleRPG: "

// Tagged returns the message text with the game's tag.
func (m Sent) Tagged() string {
	return Tag + m.Text
}
