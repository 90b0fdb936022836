package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

const maxCommentRunes = 1000

// Author is the display identity supplied by the authentication layer.
type Author struct {
	UserID   string
	Name     string
	PhotoURL string
}

// CommentLog appends comments under a report. Comments are never edited.
type CommentLog struct {
	comments storage.CommentStore
	clock    func() time.Time
	logger   *utils.Logger
}

func NewCommentLog(comments storage.CommentStore, logger *utils.Logger) *CommentLog {
	return &CommentLog{comments: comments, clock: now, logger: logger.With("comments")}
}

func (c *CommentLog) Add(ctx context.Context, priceID string, author Author, text string) (*models.Comment, error) {
	text = strings.TrimSpace(text)
	switch {
	case priceID == "":
		return nil, &models.ValidationError{Field: "price_id", Reason: "must not be empty"}
	case strings.TrimSpace(author.UserID) == "":
		return nil, &models.ValidationError{Field: "user_id", Reason: "must not be empty"}
	case text == "":
		return nil, &models.ValidationError{Field: "text", Reason: "must not be empty"}
	case utf8.RuneCountInString(text) > maxCommentRunes:
		return nil, &models.ValidationError{Field: "text", Reason: "longer than 1000 characters"}
	}

	comment := &models.Comment{
		ID:            newID(),
		PriceReportID: priceID,
		UserID:        author.UserID,
		UserName:      author.Name,
		UserPhotoURL:  author.PhotoURL,
		Text:          text,
		CreatedAt:     c.clock(),
	}
	if err := c.comments.InsertComment(ctx, comment); err != nil {
		return nil, notFoundOr("add comment", "price report", priceID, err)
	}
	c.logger.Debug("comment %s on %s by %s", comment.ID, priceID, author.UserID)
	return comment, nil
}

// List returns a report's comments, oldest first.
func (c *CommentLog) List(ctx context.Context, priceID string) ([]*models.Comment, error) {
	list, err := c.comments.ListComments(ctx, priceID)
	if err != nil {
		return nil, translate("list comments", err)
	}
	return list, nil
}
