package types

import "context"

// Client is the subset of the VK API the bridge talks to
type Client interface {
	GetLongPollServer(ctx context.Context, token string) (*LongPollServer, error)
	Poll(ctx context.Context, server, key string, ts int64, wait int) (*PollResult, error)
	GetHistoryPhotos(ctx context.Context, token string, peerID int64) ([]Photo, error)
}
