// Package model содержит доменные сущности программы лояльности и витрины.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TierID идентифицирует уровень программы лояльности.
type TierID string

const (
	TierBronze   TierID = "bronze"
	TierSilver   TierID = "silver"
	TierGold     TierID = "gold"
	TierPlatinum TierID = "platinum"
)

// Tier описывает уровень участника: порог баллов, множитель начислений и привилегии.
type Tier struct {
	ID         TierID          `json:"tier"`
	Name       string          `json:"name"`
	MinPoints  int64           `json:"minPoints"`
	Multiplier decimal.Decimal `json:"pointsMultiplier"`
	Benefits   []string        `json:"benefits"`
	Color      string          `json:"color"`
}

// Member представляет участника программы лояльности.
// Поле Tier вычисляется по балансу и не является источником истины.
type Member struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Points         int64     `json:"points"`
	LifetimePoints int64     `json:"lifetimePoints"`
	Tier           TierID    `json:"tier"`
	JoinedAt       time.Time `json:"joinDate"`
	LastActivity   time.Time `json:"lastActivity"`
	BirthMonth     *int      `json:"birthMonth,omitempty"`
	BirthDay       *int      `json:"birthDay,omitempty"`
}

// TransactionType описывает причину изменения баланса.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionRedemption TransactionType = "redemption"
	TransactionReferral   TransactionType = "referral"
	TransactionBirthday   TransactionType = "birthday"
	TransactionPromotion  TransactionType = "promotion"
	TransactionAdjustment TransactionType = "adjustment"
)

// IsValid сообщает, относится ли тип к известному набору.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionPurchase, TransactionRedemption, TransactionReferral,
		TransactionBirthday, TransactionPromotion, TransactionAdjustment:
		return true
	}
	return false
}

// Transaction описывает неизменяемую запись журнала баллов.
type Transaction struct {
	ID          string          `json:"id"`
	MemberID    string          `json:"memberId"`
	Type        TransactionType `json:"type"`
	Points      int64           `json:"points"`
	Description string          `json:"description"`
	OrderID     string          `json:"orderId,omitempty"`
	RewardID    string          `json:"rewardId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`

	// IdempotencyKey не даёт записать одно и то же начисление дважды (заказ, бонус за год).
	IdempotencyKey string `json:"-"`
}

// Reward описывает позицию каталога наград.
type Reward struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PointsCost  int64  `json:"pointsCost"`
	Active      bool   `json:"isActive"`
	MinimumTier TierID `json:"minimumTier,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Terms       string `json:"termsAndConditions,omitempty"`
	CodePrefix  string `json:"-"`
}

// Redemption описывает обмен баллов на награду.
type Redemption struct {
	ID         string     `json:"id"`
	MemberID   string     `json:"memberId"`
	RewardID   string     `json:"rewardId"`
	PointsUsed int64      `json:"pointsUsed"`
	RedeemedAt time.Time  `json:"redeemedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Used       bool       `json:"isUsed"`
	UsedAt     *time.Time `json:"usedAt,omitempty"`
	Code       string     `json:"code"`
}

// Progress показывает продвижение участника к следующему уровню.
type Progress struct {
	Current    int64 `json:"current"`
	Next       int64 `json:"next"`
	Percentage int64 `json:"percentage"`
	NextTier   *Tier `json:"nextTier"`
}

// OrderStatus описывает статус заказа во внешней системе заказов.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Order описывает оформленный заказ, за который начисляются баллы.
type Order struct {
	ID            string          `json:"id"`
	MemberID      string          `json:"memberId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        OrderStatus     `json:"status"`
	PointsAwarded *int64          `json:"pointsAwarded,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Product описывает карточку товара в формате витрины.
type Product struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	Subcategory string           `json:"subcategory,omitempty"`
	Image       string           `json:"image"`
	Price       decimal.Decimal  `json:"price"`
	SalePrice   *decimal.Decimal `json:"salePrice,omitempty"`
	THCContent  string           `json:"thcContent,omitempty"`
	CBDContent  string           `json:"cbdContent,omitempty"`
	Strain      string           `json:"strain,omitempty"`
	Quantity    string           `json:"quantity,omitempty"`
	Description string           `json:"description,omitempty"`
	Effects     []string         `json:"effects,omitempty"`
	Flavors     []string         `json:"flavors,omitempty"`
	Featured    bool             `json:"featured,omitempty"`
	IsNew       bool             `json:"isNew,omitempty"`
	OnSale      bool             `json:"onSale,omitempty"`
}

// BlogCategory описывает рубрику блога. Count вычисляется по опубликованным статьям.
type BlogCategory struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

// BlogPost описывает статью блога.
type BlogPost struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Excerpt     string    `json:"excerpt"`
	Content     string    `json:"content,omitempty"`
	CoverImage  string    `json:"coverImage"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	Author      string    `json:"author"`
	AuthorImage string    `json:"authorImage,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	ReadTime    int       `json:"readTime"`
	Featured    bool      `json:"featured,omitempty"`
}

// Summary возвращает статью без текста для списков.
func (p BlogPost) Summary() BlogPost {
	p.Content = ""
	return p
}
