package partypresenter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/Party-KakaoTalk-bot/internal/coordinator"
	"github.com/park285/Party-KakaoTalk-bot/internal/msgcat"
	"github.com/park285/Party-KakaoTalk-bot/internal/session"
	"github.com/park285/Party-KakaoTalk-bot/internal/turncycle"
	"github.com/park285/Party-KakaoTalk-bot/internal/util"
	"github.com/park285/Party-KakaoTalk-bot/pkg/partydto"
)

// Formatter renders coordinator results and errors through the message
// catalog.
type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	return &Formatter{cat: cat}
}

// Result renders the coordinator's hint with its template data. Catalog
// misses fall back to a plain line so a bad override never eats a reply.
func (f *Formatter) Result(res *coordinator.Result) string {
	if res == nil {
		return ""
	}
	out, err := f.cat.Render(res.Hint, res.Data)
	if err != nil {
		return strings.ReplaceAll(res.Hint, ".", ": ")
	}
	return out
}

// Error maps the session error taxonomy to catalog keys.
func (f *Formatter) Error(err error) string {
	de := ToDomainError(err)
	key := "errors." + strings.ToLower(de.Code)
	out, rerr := f.cat.Render(key, map[string]any{"Reason": de.Message})
	if rerr != nil {
		return de.Message
	}
	return out
}

// GroupList renders the room's open posts behind a see-more fold.
func (f *Formatter) GroupList(list []*session.Session) string {
	if len(list) == 0 {
		out, err := f.cat.Render("group.list_empty", nil)
		if err != nil {
			return "No open groups."
		}
		return out
	}
	header, err := f.cat.Render("group.list_header", nil)
	if err != nil {
		header = "Open groups:"
	}
	var b strings.Builder
	for _, s := range list {
		snap := ToSnapshot(s)
		line, lerr := f.cat.Render("group.list_entry", map[string]any{
			"Title":    snap.Title,
			"Count":    len(snap.Participants),
			"Capacity": snap.Capacity,
			"Owner":    snap.OwnerName,
		})
		if lerr != nil {
			line = fmt.Sprintf("- %s (%d/%d)", snap.Title, len(snap.Participants), snap.Capacity)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return util.ApplyKakaoSeeMorePadding(b.String(), header)
}

// ToDomainError converts engine errors into the gateway-facing shape.
func ToDomainError(err error) partydto.DomainError {
	var se *session.Error
	if errors.As(err, &se) {
		return partydto.DomainError{
			Code:      string(se.Code),
			Message:   se.Message,
			Retryable: se.Code == session.CodeTransient,
		}
	}
	return partydto.DomainError{Code: "INTERNAL", Message: err.Error()}
}

// ToSnapshot flattens a session into the external DTO.
func ToSnapshot(s *session.Session) partydto.SessionSnapshot {
	if s == nil {
		return partydto.SessionSnapshot{}
	}
	snap := partydto.SessionSnapshot{
		ID:           s.ID,
		Kind:         string(s.Kind),
		Room:         s.Room,
		State:        string(s.State),
		OwnerID:      s.OwnerID,
		OwnerName:    s.Name(s.OwnerID),
		Participants: append([]string(nil), s.Participants...),
		Names:        s.Names,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		ExpiresAt:    s.ExpiresAt,
	}
	switch {
	case s.Group != nil:
		snap.Capacity = s.Group.Capacity
		snap.Title = s.Group.Title
	case s.Turn != nil:
		snap.CurrentID = turncycle.Current(s)
		snap.TurnCount = s.Turn.TurnCount
	case s.Quest != nil:
		snap.Round = s.Quest.Round
		snap.Choices = append([]string(nil), s.Quest.Choices...)
	case s.Duel != nil:
		snap.ChallengerID = s.Duel.ChallengerID
		snap.OpponentID = s.Duel.OpponentID
		snap.WinnerID = s.Duel.WinnerID
	}
	return snap
}
