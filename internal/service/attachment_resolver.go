package service

import (
	"context"
	"errors"

	apperrors "forwardbot/internal/errors"
	"forwardbot/internal/metrics"
	"forwardbot/internal/models"

	"github.com/sirupsen/logrus"
)

// photoLadder lists photo widths from best to worst; 75 is the last resort
var photoLadder = []int{2560, 1280, 807, 604, 130, 75}

var errPhotoNotFound = errors.New("photo not found in conversation history")

// AttachmentResolver turns attachment references into forwardable values
type AttachmentResolver struct {
	source  SourceAPI
	metrics *metrics.Registry
	logger  *logrus.Logger
}

func NewAttachmentResolver(source SourceAPI, registry *metrics.Registry, logger *logrus.Logger) *AttachmentResolver {
	return &AttachmentResolver{source: source, metrics: registry, logger: logger}
}

// Resolve returns the URL of the best photo rendition, or the type label of
// an unsupported attachment. peerID is the conversation the photo was sent in.
// An empty result means the attachment should be dropped.
func (r *AttachmentResolver) Resolve(ctx context.Context, account *models.Account, peerID int64, ref models.AttachmentRef) string {
	switch ref := ref.(type) {
	case models.PhotoRef:
		url, err := r.resolvePhoto(ctx, account, peerID, ref)
		if err != nil {
			fields := accountFields(ctx, account.AccountID)
			fields[LogFieldContactID] = contactField(ctx, peerID)
			apperrors.WrapLogger(r.logger).LogWarn(apperrors.NewAttachmentError("photo", err), "Failed to resolve photo attachment", fields)
			r.metrics.IncrementCounter(metrics.AttachmentsUnresolvedTotal, nil, "Attachments dropped because no URL could be resolved")
			return ""
		}
		return url
	case models.UnsupportedRef:
		return ref.Label
	default:
		return ""
	}
}

func (r *AttachmentResolver) resolvePhoto(ctx context.Context, account *models.Account, peerID int64, ref models.PhotoRef) (string, error) {
	photos, err := r.source.GetHistoryPhotos(ctx, account.SourceToken, peerID)
	if err != nil {
		return "", err
	}

	for i := range photos {
		if photos[i].ID != ref.PhotoID {
			continue
		}
		for _, width := range photoLadder {
			if url := photos[i].URLForWidth(width); url != "" {
				return url, nil
			}
		}
		return "", errPhotoNotFound
	}
	return "", errPhotoNotFound
}
