package livekit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// ServiceConfig configures the LiveKit room-service client used to create
// rooms and mint participant access tokens for voice sessions.
type ServiceConfig struct {
	URL                   string
	APIKey                string
	APISecret             string
	TokenValidityDuration time.Duration
}

// DefaultServiceConfig matches a local LiveKit dev server on its
// conventional port, with no credentials set.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		URL:                   "ws://localhost:7880",
		TokenValidityDuration: 6 * time.Hour,
	}
}

// Room is a LiveKit room with its currently known participants.
type Room struct {
	Name         string
	SID          string
	Participants []*Participant
}

// Token is a signed LiveKit access token and its expiry.
type Token struct {
	Token     string
	ExpiresAt int64
}

// Participant is one participant LiveKit currently tracks in a room.
type Participant struct {
	ID       string
	Identity string
	Name     string
}

// Service wraps a LiveKit RoomServiceClient to create the room backing a
// voice session and mint the access token its participant uses to join.
type Service struct {
	config     *ServiceConfig
	roomClient *lksdk.RoomServiceClient
}

// NewService dials the LiveKit room service. APIKey and APISecret are
// required since every generated token must be signed.
func NewService(config *ServiceConfig) (*Service, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.URL == "" {
		return nil, fmt.Errorf("livekit URL is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("livekit API key is required")
	}
	if config.APISecret == "" {
		return nil, fmt.Errorf("livekit API secret is required")
	}
	if config.TokenValidityDuration == 0 {
		config.TokenValidityDuration = 6 * time.Hour
	}

	roomClient := lksdk.NewRoomServiceClient(config.URL, config.APIKey, config.APISecret)

	return &Service{config: config, roomClient: roomClient}, nil
}

// CreateRoom creates a room for a voice session, tagged with its
// creation time so operators can audit stale rooms. emptyTimeoutSec is how
// long LiveKit keeps the room alive with zero participants before tearing
// it down; maxParticipants caps concurrent joiners (a voice session is
// one human participant plus the agent, so callers pass 2).
func (s *Service) CreateRoom(ctx context.Context, name string, emptyTimeoutSec uint32, maxParticipants uint32) (*Room, error) {
	if name == "" {
		return nil, fmt.Errorf("room name is required")
	}

	metadata, err := json.Marshal(map[string]string{
		"room_id":    name,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room metadata: %w", err)
	}

	room, err := s.roomClient.CreateRoom(ctx, &lkproto.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    emptyTimeoutSec,
		MaxParticipants: maxParticipants,
		Metadata:        string(metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return &Room{Name: room.Name, SID: room.Sid, Participants: []*Participant{}}, nil
}

// GetRoom looks up a room by name along with its current participants.
func (s *Service) GetRoom(ctx context.Context, name string) (*Room, error) {
	if name == "" {
		return nil, fmt.Errorf("room name is required")
	}

	rooms, err := s.roomClient.ListRooms(ctx, &lkproto.ListRoomsRequest{Names: []string{name}})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	if len(rooms.GetRooms()) == 0 {
		return nil, fmt.Errorf("room not found: %s", name)
	}
	room := rooms.GetRooms()[0]

	participants, err := s.ListParticipants(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	return &Room{Name: room.Name, SID: room.Sid, Participants: participants}, nil
}

// DeleteRoom tears down a room, disconnecting any remaining participants.
func (s *Service) DeleteRoom(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if _, err := s.roomClient.DeleteRoom(ctx, &lkproto.DeleteRoomRequest{Room: name}); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// GenerateToken mints a signed access token granting participantID
// publish/subscribe/data rights in roomName, valid for the service's
// configured TokenValidityDuration.
func (s *Service) GenerateToken(ctx context.Context, roomName, participantID, participantName string) (*Token, error) {
	if roomName == "" {
		return nil, fmt.Errorf("room name is required")
	}
	if participantID == "" {
		return nil, fmt.Errorf("participant ID is required")
	}
	if participantName == "" {
		participantName = participantID
	}

	at := auth.NewAccessToken(s.config.APIKey, s.config.APISecret)
	canPublish := true
	canSubscribe := true
	canPublishData := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	at.SetVideoGrant(grant).
		SetIdentity(participantID).
		SetName(participantName).
		SetValidFor(s.config.TokenValidityDuration)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &Token{
		Token:     token,
		ExpiresAt: time.Now().Add(s.config.TokenValidityDuration).Unix(),
	}, nil
}

// ListParticipants lists the participants LiveKit currently tracks for roomName.
func (s *Service) ListParticipants(ctx context.Context, roomName string) ([]*Participant, error) {
	if roomName == "" {
		return nil, fmt.Errorf("room name is required")
	}

	resp, err := s.roomClient.ListParticipants(ctx, &lkproto.ListParticipantsRequest{Room: roomName})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	participants := resp.GetParticipants()
	result := make([]*Participant, 0, len(participants))
	for _, p := range participants {
		result = append(result, &Participant{ID: p.Sid, Identity: p.Identity, Name: p.Name})
	}
	return result, nil
}

// SendData broadcasts a reliable data packet to roomName, optionally
// restricted to participantIDs (empty means every participant).
func (s *Service) SendData(ctx context.Context, roomName string, data []byte, participantIDs []string) error {
	if roomName == "" {
		return fmt.Errorf("room name is required")
	}
	if len(data) == 0 {
		return fmt.Errorf("data is required")
	}

	var destinations []string
	if len(participantIDs) > 0 {
		destinations = participantIDs
	}

	_, err := s.roomClient.SendData(ctx, &lkproto.SendDataRequest{
		Room:                  roomName,
		Data:                  data,
		Kind:                  lkproto.DataPacket_RELIABLE,
		DestinationIdentities: destinations,
	})
	if err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	return nil
}
