package domain

import (
	"fmt"
	"strings"
)

// SecurityID identifies an instrument on a board.
type SecurityID struct {
	Code  string `json:"code"`
	Board string `json:"board"`
}

// AllSecurity is the pseudo instrument that owns news and board-state segments.
var AllSecurity = SecurityID{Code: "ALL", Board: "ALL"}

// IsZero reports whether the id names no instrument.
func (s SecurityID) IsZero() bool {
	return s.Code == "" && s.Board == ""
}

func (s SecurityID) String() string {
	return s.Code + "@" + s.Board
}

// ParseSecurityID parses the CODE@BOARD form.
func ParseSecurityID(s string) (SecurityID, error) {
	code, board, ok := strings.Cut(s, "@")
	if !ok || code == "" || board == "" {
		return SecurityID{}, fmt.Errorf("invalid security id %q", s)
	}
	return SecurityID{Code: code, Board: board}, nil
}
