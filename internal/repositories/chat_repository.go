package repositories

import (
	"context"
	"errors"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/interfaces"
	"carechat/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

// gorm rewrites ? placeholders for the active dialect, so squirrel keeps the default format.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

type ChatRepository struct {
	db *gorm.DB
}

var _ interfaces.ChatStore = (*ChatRepository)(nil)

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{
		db: db,
	}
}

func (chr *ChatRepository) Ping(ctx context.Context) error {
	sqlDB, err := chr.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (chr *ChatRepository) InsertConversation(ctx context.Context, conversation *models.Conversation) error {
	participants := conversation.Participants
	conversation.Participants = nil
	defer func() { conversation.Participants = participants }()

	return chr.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conversation).Error; err != nil {
			// return any error will rollback
			return translate(err)
		}
		for i := range participants {
			participants[i].ConversationID = conversation.ID
			if err := tx.Create(&participants[i]).Error; err != nil {
				return translate(err)
			}
		}
		return nil
	})
}

func (chr *ChatRepository) GetConversation(ctx context.Context, conversationID uint) (*models.Conversation, error) {
	var conversation models.Conversation
	result := chr.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Where("id = ?", conversationID).
		Limit(1).
		Find(&conversation)
	if err := result.Error; err != nil {
		return nil, translate(err)
	}
	if result.RowsAffected == 0 {
		return nil, errs.ErrConversationNotFound
	}
	return &conversation, nil
}

func (chr *ChatRepository) FindGroupsByName(ctx context.Context, familyID uint, name string) ([]models.Conversation, error) {
	query, args, err := psql.
		Select("id").
		From("conversations").
		Where(sq.Eq{"family_id": familyID, "kind": enums.CONVERSATION_KIND_GROUP, "name": name}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	return chr.loadByQuery(ctx, query, args)
}

func (chr *ChatRepository) ListDirectConversations(ctx context.Context, familyID, userID uint) ([]models.Conversation, error) {
	query, args, err := psql.
		Select("c.id").
		From("conversations AS c").
		Join("participants AS p ON p.conversation_id = c.id").
		Where(sq.Eq{"c.family_id": familyID, "c.kind": enums.CONVERSATION_KIND_DIRECT, "p.user_id": userID}).
		OrderBy("c.id").
		ToSql()
	if err != nil {
		return nil, err
	}
	return chr.loadByQuery(ctx, query, args)
}

func (chr *ChatRepository) ListConversationsForUser(ctx context.Context, userID uint) ([]models.Conversation, error) {
	query, args, err := psql.
		Select("conversation_id").
		From("participants").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("conversation_id").
		ToSql()
	if err != nil {
		return nil, err
	}
	return chr.loadByQuery(ctx, query, args)
}

func (chr *ChatRepository) DeleteConversation(ctx context.Context, conversationID uint) error {
	return chr.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.Participant{}).Error; err != nil {
			return translate(err)
		}
		result := tx.Where("id = ?", conversationID).Delete(&models.Conversation{})
		if err := result.Error; err != nil {
			return translate(err)
		}
		if result.RowsAffected == 0 {
			return errs.ErrConversationNotFound
		}
		return nil
	})
}

func (chr *ChatRepository) MergeConversations(ctx context.Context, fromID, intoID uint) error {
	return chr.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&models.Conversation{}).Where("id = ?", fromID).Count(&found).Error; err != nil {
			return translate(err)
		}
		if found == 0 {
			return nil
		}
		if err := tx.Model(&models.Conversation{}).Where("id = ?", intoID).Count(&found).Error; err != nil {
			return translate(err)
		}
		if found == 0 {
			return errs.ErrConversationNotFound
		}

		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ?", fromID).
			Update("conversation_id", intoID).Error; err != nil {
			return translate(err)
		}

		// Union the rosters keeping the furthest read cursor of each user.
		if err := tx.Exec(
			`INSERT INTO participants (conversation_id, user_id, last_read_at, joined_at)
			 SELECT ?, user_id, last_read_at, joined_at FROM participants WHERE conversation_id = ?
			 ON CONFLICT (conversation_id, user_id)
			 DO UPDATE SET last_read_at = GREATEST(participants.last_read_at, EXCLUDED.last_read_at)`,
			intoID, fromID,
		).Error; err != nil {
			return translate(err)
		}

		if err := tx.Where("conversation_id = ?", fromID).Delete(&models.Participant{}).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("id = ?", fromID).Delete(&models.Conversation{}).Error; err != nil {
			return translate(err)
		}
		return translate(tx.Model(&models.Conversation{}).
			Where("id = ?", intoID).
			Update("updated_at", tx.NowFunc()).Error)
	})
}

func (chr *ChatRepository) AddParticipant(ctx context.Context, conversationID, userID uint) error {
	var found int64
	if err := chr.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conversationID).Count(&found).Error; err != nil {
		return translate(err)
	}
	if found == 0 {
		return errs.ErrConversationNotFound
	}

	err := chr.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Participant{ConversationID: conversationID, UserID: userID}).Error
	if isUniqueViolation(err) {
		return nil
	}
	return translate(err)
}

func (chr *ChatRepository) GetParticipant(ctx context.Context, conversationID, userID uint) (*models.Participant, error) {
	var participant models.Participant
	result := chr.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Limit(1).
		Find(&participant)
	if err := result.Error; err != nil {
		return nil, translate(err)
	}
	if result.RowsAffected == 0 {
		return nil, errs.ErrParticipantNotFound
	}
	return &participant, nil
}

func (chr *ChatRepository) ListParticipants(ctx context.Context, conversationID uint) ([]models.Participant, error) {
	conversation, err := chr.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conversation.Participants, nil
}

func (chr *ChatRepository) AdvanceReadCursor(ctx context.Context, conversationID, userID uint, at time.Time) (*models.Participant, error) {
	result := chr.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("last_read_at", gorm.Expr("GREATEST(COALESCE(last_read_at, ?), ?)", at, at))
	if err := result.Error; err != nil {
		return nil, translate(err)
	}
	if result.RowsAffected == 0 {
		return nil, errs.ErrParticipantNotFound
	}
	return chr.GetParticipant(ctx, conversationID, userID)
}

func (chr *ChatRepository) AppendMessage(ctx context.Context, message *models.Message) error {
	message.ID = 0
	message.IsDeleted = false
	return chr.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&models.Conversation{}).Where("id = ?", message.ConversationID).Count(&found).Error; err != nil {
			return translate(err)
		}
		if found == 0 {
			return errs.ErrConversationNotFound
		}
		message.CreatedAt = tx.NowFunc()
		if err := tx.Create(message).Error; err != nil {
			return translate(err)
		}
		return translate(tx.Model(&models.Conversation{}).
			Where("id = ?", message.ConversationID).
			Update("updated_at", message.CreatedAt).Error)
	})
}

func (chr *ChatRepository) GetMessage(ctx context.Context, messageID uint) (*models.Message, error) {
	var message models.Message
	result := chr.db.WithContext(ctx).Where("id = ?", messageID).Limit(1).Find(&message)
	if err := result.Error; err != nil {
		return nil, translate(err)
	}
	if result.RowsAffected == 0 {
		return nil, errs.ErrMessageNotFound
	}
	return &message, nil
}

func (chr *ChatRepository) ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var found int64
	if err := chr.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conversationID).Count(&found).Error; err != nil {
		return nil, translate(err)
	}
	if found == 0 {
		return nil, errs.ErrConversationNotFound
	}

	var messages []models.Message
	if err := chr.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at ASC, id ASC").
		Find(&messages).Error; err != nil {
		return nil, translate(err)
	}
	return messages, nil
}

func (chr *ChatRepository) LastMessage(ctx context.Context, conversationID uint) (*models.Message, error) {
	var message models.Message
	result := chr.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&message)
	if err := result.Error; err != nil {
		return nil, translate(err)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &message, nil
}

func (chr *ChatRepository) SoftDeleteMessage(ctx context.Context, messageID uint) (bool, error) {
	result := chr.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", messageID, false).
		Update("is_deleted", true)
	if err := result.Error; err != nil {
		return false, translate(err)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	if _, err := chr.GetMessage(ctx, messageID); err != nil {
		return false, err
	}
	return false, nil
}

func (chr *ChatRepository) CountUnread(ctx context.Context, conversationID, userID uint, since *time.Time) (int64, error) {
	builder := psql.
		Select("COUNT(*)").
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID, "is_deleted": false}).
		Where(sq.NotEq{"sender_id": userID})
	if since != nil {
		builder = builder.Where(sq.Gt{"created_at": *since})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := chr.db.WithContext(ctx).Raw(query, args...).Scan(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func (chr *ChatRepository) loadByQuery(ctx context.Context, query string, args []any) ([]models.Conversation, error) {
	var ids []uint
	if err := chr.db.WithContext(ctx).Raw(query, args...).Scan(&ids).Error; err != nil {
		return nil, translate(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var conversations []models.Conversation
	if err := chr.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&conversations).Error; err != nil {
		return nil, translate(err)
	}
	return conversations, nil
}

func orderedParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("user_id ASC")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// translate marks connection-level failures as transient so callers can retry them.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return errs.ErrDuplicate
		}
		return err
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.SafeToRetry(err) {
		return errs.Transient(err)
	}
	return err
}
