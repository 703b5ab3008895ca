// Package invalidate carries content-mutation signals from the posting and
// moderation collaborators to the supervisor that regenerates artifacts.
package invalidate

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidSignal is wrapped by every signal validation failure.
var ErrInvalidSignal = errors.New("invalid signal")

//go:embed signal.schema.json
var signalSchemaJSON string

var signalSchema = jsonschema.MustCompileString("signal.schema.json", signalSchemaJSON)

var boardURI = regexp.MustCompile(`^\w+$`)

// Signal names the artifacts a store mutation made stale. Thread and Page
// are optional; All asks for a full rebuild and needs no board.
type Signal struct {
	Board   string `json:"board,omitempty"`
	Thread  *int64 `json:"thread,omitempty"`
	Page    *int   `json:"page,omitempty"`
	Catalog bool   `json:"catalog,omitempty"`
	All     bool   `json:"all,omitempty"`
}

// Validate checks a signal built in code.
func (s Signal) Validate() error {
	if s.All {
		return nil
	}
	if !boardURI.MatchString(s.Board) {
		return fmt.Errorf("%w: board %q", ErrInvalidSignal, s.Board)
	}
	if s.Thread != nil && *s.Thread < 1 {
		return fmt.Errorf("%w: thread %d", ErrInvalidSignal, *s.Thread)
	}
	if s.Page != nil && *s.Page < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidSignal, *s.Page)
	}
	return nil
}

func (s Signal) String() string {
	if s.All {
		return "all"
	}
	parts := []string{"board=" + s.Board}
	if s.Thread != nil {
		parts = append(parts, fmt.Sprintf("thread=%d", *s.Thread))
	}
	if s.Page != nil {
		parts = append(parts, fmt.Sprintf("page=%d", *s.Page))
	}
	if s.Catalog {
		parts = append(parts, "catalog")
	}
	return strings.Join(parts, " ")
}

// Decode parses a JSON signal and validates it against the signal schema.
func Decode(raw []byte) (Signal, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if err := signalSchema.Validate(doc); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	return s, s.Validate()
}

// ThreadSignal returns a signal for one thread.
func ThreadSignal(board string, threadID int64) Signal {
	return Signal{Board: board, Thread: &threadID}
}

// PageSignal returns a signal for one board page.
func PageSignal(board string, page int) Signal {
	return Signal{Board: board, Page: &page}
}
