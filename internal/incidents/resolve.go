package incidents

import (
	"context"
	"fmt"

	"github.com/Horgix/incidents-automation-app/internal/domain"
)

// ExtractEventInfo resolves the channel and user of an event through the
// chat so updates carry real display names.
func (s *Service) ExtractEventInfo(ctx context.Context, event Event) (Source, error) {
	var channel Room
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		channel, err = s.chat.ResolveChannel(ctx, event.Channel)
		return err
	})
	if err != nil {
		return Source{}, collaboratorErr("chat", "resolve channel "+event.Channel, err)
	}

	var user User
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.chat.ResolveUser(ctx, event.User)
		return err
	})
	if err != nil {
		return Source{}, collaboratorErr("chat", "resolve user "+event.User, err)
	}

	return Source{
		Channel: channel,
		User:    user,
		Message: event.Text,
	}, nil
}

// FindIncidentFromChannel loads the incident whose chat room is channelID.
func (s *Service) FindIncidentFromChannel(ctx context.Context, channelID string) (*domain.Incident, error) {
	var docs [][]byte
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		docs, err = s.store.Query(ctx, s.config.Index, Filter{Field: domain.FieldChatRoomID, Value: channelID})
		return err
	})
	if err != nil {
		return nil, collaboratorErr("store", "query incidents", err)
	}

	switch len(docs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, channelID)
	case 1:
		return s.codec.Unmarshal(docs[0])
	default:
		return nil, fmt.Errorf("%w: %s matches %d incidents", ErrAmbiguousIncident, channelID, len(docs))
	}
}

// resolve runs the read-only steps shared by every event driven operation.
// Nothing has been written when it fails.
func (s *Service) resolve(ctx context.Context, op *operation, event Event) (Source, *domain.Incident, error) {
	source, err := s.ExtractEventInfo(ctx, event)
	if err != nil {
		return Source{}, nil, err
	}

	inc, err := s.FindIncidentFromChannel(ctx, source.Channel.ID)
	if err != nil {
		return Source{}, nil, err
	}
	op.setIncident(inc.ID)

	if inc.ChatRoomID == "" {
		return Source{}, nil, fmt.Errorf("%w: incident %d", ErrRoomNotReady, inc.ID)
	}

	op.logger.Debug("resolved incident from event",
		"channel", source.Channel.Name,
		"user", source.User.Name,
	)

	return source, inc, nil
}
