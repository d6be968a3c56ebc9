package events

import (
	"fmt"
	"io"
	"strings"
)

// StepPrinterFunc returns a Handler that writes streamed text to w as it
// arrives. name, when set, is printed once before the first fragment of
// every send.
func StepPrinterFunc(name string, w io.Writer) Handler {
	isFirst := true

	return func(e Event) error {
		return PrintEvent(w, name, &isFirst, e)
	}
}

// PrintEvent writes the visible part of e. isFirst tracks whether the header
// for the current send was already written.
func PrintEvent(w io.Writer, name string, isFirst *bool, e Event) error {
	var err error
	switch p_ := e.(type) {
	case *EventPartialCompletionStart:
		*isFirst = true

	case *EventPartialCompletion:
		if *isFirst && name != "" {
			*isFirst = false
			if _, err = fmt.Fprintf(w, "\n%s: \n", name); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, "%s", p_.Delta)

	case *EventFinal:
		if !strings.HasSuffix(p_.Text, "\n") {
			_, err = fmt.Fprintf(w, "\n")
		}

	case *EventError:
		_, err = fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString)

	case *EventInterrupt:
		_, err = fmt.Fprintf(w, "\n[interrupted]\n")

	case *EventConversation:
	}

	return err
}
