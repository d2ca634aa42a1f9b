package message

import "gitlab.com/zephyrtronium/tmi"

// FromTMI adapts an IRC message.
func FromTMI(m *tmi.Message) Event {
	ev := Event{Nick: m.Nick, Text: m.Trailing}
	switch m.Command {
	case "PRIVMSG", "NOTICE":
		if len(m.Params) == 0 {
			return Event{}
		}
		ev.Kind = Privmsg
		if m.Command == "NOTICE" {
			ev.Kind = Notice
		}
		ev.To = m.To()
	case "NICK":
		ev.Kind = Nick
		if ev.Text == "" && len(m.Params) > 0 {
			ev.Text = m.Params[0]
		}
	case "PART":
		ev.Kind = Part
		if len(m.Params) > 0 {
			ev.To = m.Params[0]
		} else {
			ev.To, ev.Text = m.Trailing, ""
		}
	case "KICK":
		if len(m.Params) < 2 {
			return Event{}
		}
		ev.Kind = Kick
		ev.To = m.Params[0]
		ev.Target = m.Params[1]
	case "QUIT":
		ev.Kind = Quit
	case "376", "422":
		// End of MOTD, or no MOTD.
		ev.Kind = Welcome
	}
	return ev
}

// ToTMI creates a message to send over IRC. The text is sent as given.
func ToTMI(m Sent) *tmi.Message {
	return tmi.Privmsg(m.To, m.Text)
}
