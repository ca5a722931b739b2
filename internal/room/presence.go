package room

import (
	"sort"
	"time"

	"project-chat-service/internal/models"
)

// memberList returns the distinct identities currently joined, sorted
// by user id for a stable snapshot. A user with two connections appears
// once.
func (r *Room) memberList() []models.Identity {
	seen := make(map[string]struct{}, len(r.members))
	list := make([]models.Identity, 0, len(r.members))
	for _, identity := range r.members {
		if _, ok := seen[identity.UserID]; ok {
			continue
		}
		seen[identity.UserID] = struct{}{}
		list = append(list, identity)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
	return list
}

func presenceEvent(identity models.Identity, kind string) models.ServerEvent {
	return models.ServerEvent{
		Type:      models.EventPresence,
		UserID:    identity.UserID,
		UserName:  identity.DisplayName,
		Presence:  kind,
		Timestamp: time.Now().UTC(),
	}
}

func typingEvent(identity models.Identity, isTyping bool) models.ServerEvent {
	return models.ServerEvent{
		Type:     models.EventTyping,
		UserID:   identity.UserID,
		UserName: identity.DisplayName,
		IsTyping: isTyping,
	}
}
