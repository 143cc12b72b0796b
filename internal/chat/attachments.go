package chat

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"chat-engine/internal/apperr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// AttachmentInput describes a file already uploaded to blob storage.
type AttachmentInput struct {
	FileRef  string `json:"file_ref" validate:"required,max=500"`
	FileName string `json:"file_name" validate:"required,max=255"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
	FileType string `json:"file_type" validate:"max=100"`
}

// AttachmentView is an attachment with its fetchable URL.
type AttachmentView struct {
	models.Attachment
	URL string `json:"url,omitempty"`
}

// AddAttachment links a file to a message. Only the sender, still active in the conversation, may attach.
func (s *Service) AddAttachment(ctx context.Context, messageID, actorID int64, in AttachmentInput) (AttachmentView, error) {
	in.FileRef = strings.TrimSpace(in.FileRef)
	in.FileName = strings.TrimSpace(in.FileName)
	in.FileType = strings.TrimSpace(in.FileType)
	if err := s.validate.Struct(in); err != nil {
		return AttachmentView{}, validationErr(err)
	}

	var att models.Attachment
	err := s.store.WithTx(ctx, func(q repositories.Queries) error {
		msg, err := q.GetMessage(ctx, messageID)
		if err != nil {
			return storeErr("message", err)
		}
		if msg.IsDeleted {
			return apperr.NotFound("message", nil)
		}
		if _, err := requireActive(ctx, q, msg.ConversationID, actorID); err != nil {
			return err
		}
		if msg.SenderID != actorID {
			return apperr.Permission("only the sender can attach files to this message")
		}
		if err := requireOpen(ctx, q, msg.ConversationID); err != nil {
			return err
		}
		att, err = q.CreateAttachment(ctx, models.Attachment{
			MessageID: messageID,
			FileRef:   in.FileRef,
			FileName:  in.FileName,
			FileSize:  in.FileSize,
			FileType:  in.FileType,
			CreatedAt: s.clock(),
		})
		return err
	})
	if err != nil {
		return AttachmentView{}, err
	}
	return s.attachmentView(ctx, att), nil
}

func (s *Service) attachmentView(ctx context.Context, att models.Attachment) AttachmentView {
	view := AttachmentView{Attachment: att}
	if s.urls == nil {
		return view
	}
	url, err := s.urls.URL(ctx, att.FileRef)
	if err != nil {
		s.logger.WarnContext(ctx, "resolve attachment url failed", "attachment_id", att.ID, "err", err)
		return view
	}
	view.URL = url
	return view
}

// withAttachments loads the attachments of msgs in one query.
func (s *Service) withAttachments(ctx context.Context, msgs []models.Message) ([]MessageView, error) {
	views := make([]MessageView, len(msgs))
	if len(msgs) == 0 {
		return views, nil
	}
	ids := lo.Map(msgs, func(m models.Message, _ int) int64 { return m.ID })
	atts, err := s.store.ListAttachments(ctx, ids)
	if err != nil {
		return nil, err
	}
	byMessage := lo.GroupBy(atts, func(a models.Attachment) int64 { return a.MessageID })
	for i, m := range msgs {
		views[i] = MessageView{
			Message: m,
			Attachments: lo.Map(byMessage[m.ID], func(a models.Attachment, _ int) AttachmentView {
				return s.attachmentView(ctx, a)
			}),
		}
		if views[i].Attachments == nil {
			views[i].Attachments = []AttachmentView{}
		}
	}
	return views, nil
}
