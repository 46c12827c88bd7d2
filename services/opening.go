// services/opening.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/wfunc/seatkeeper/room"
)

// CharacterLookup resolves character ids to display names.
type CharacterLookup interface {
	CharacterNames(ctx context.Context, ids []string) (map[string]string, error)
}

// OpeningService writes a short templated opening for a new campaign.
type OpeningService struct {
	characters CharacterLookup
}

func NewOpeningService(characters CharacterLookup) *OpeningService {
	return &OpeningService{characters: characters}
}

func (s *OpeningService) GenerateOpening(ctx context.Context, meta room.SessionMetadata, characters []room.CharacterRef) (string, error) {
	if len(characters) == 0 {
		return "", fmt.Errorf("no characters bound to session %s", meta.SessionID)
	}
	ids := make([]string, 0, len(characters))
	for _, c := range characters {
		ids = append(ids, c.CharacterID)
	}

	names := map[string]string{}
	if s.characters != nil {
		var err error
		if names, err = s.characters.CharacterNames(ctx, ids); err != nil {
			return "", fmt.Errorf("lookup characters: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	party := make([]string, 0, len(characters))
	for _, c := range characters {
		name := names[c.CharacterID]
		if name == "" {
			name = fmt.Sprintf("the adventurer in seat %d", c.SlotIndex)
		}
		party = append(party, name)
	}

	var b strings.Builder
	b.WriteString("The lanterns gutter as the party gathers: ")
	b.WriteString(joinNames(party))
	b.WriteString(". Your story begins.")
	return b.String(), nil
}

func joinNames(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
