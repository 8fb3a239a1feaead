package schema

import "time"

// Book is the book_store table.
type Book struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Title         string    `gorm:"type:text;not null"`
	Author        string    `gorm:"type:text;not null"`
	Genre         *string   `gorm:"type:text"`
	PublishedYear *int      `gorm:"column:published_year"`
	CreatedAt     time.Time `gorm:"not null;default:now()"`
}

func (Book) TableName() string { return "book_store" }

// Profile is keyed by the auth user id.
type Profile struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	DisplayName *string   `gorm:"type:text"`
	Username    *string   `gorm:"type:text;uniqueIndex"`
	AvatarURL   *string   `gorm:"column:avatar_url;type:text"`
	Status      *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null;default:now()"`
}

func (Profile) TableName() string { return "profiles" }

type Message struct {
	ID             string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SenderUserID   string    `gorm:"type:uuid;not null;index"`
	ReceiverUserID string    `gorm:"type:uuid;not null;index"`
	Body           string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null;default:now();index"`
}

func (Message) TableName() string { return "messages" }
