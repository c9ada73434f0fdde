// Package catalog загружает статическую конфигурацию программы лояльности и витрины:
// параметры начисления, уровни, награды, стартовых участников и товары.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/greenway-loyalty/internal/loyalty"
	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

//go:embed default.yaml
var defaultFile []byte

// ErrInvalidFile возвращается, если файл каталога не удаётся разобрать.
var ErrInvalidFile = errors.New("invalid catalog file")

// Catalog содержит проверенную конфигурацию, готовую к передаче в движок и витрину.
type Catalog struct {
	Program  loyalty.Program
	Tiers    *loyalty.TierTable
	Rewards  *loyalty.Catalog
	Members  []model.Member
	Products []model.Product

	// Transactions и Redemptions содержат историю стартовых участников.
	Transactions []model.Transaction
	Redemptions  []model.Redemption
}

type fileProgram struct {
	PointsPerDollar        string        `yaml:"pointsPerDollar"`
	MinimumPurchaseAmount  string        `yaml:"minimumPurchaseAmount"`
	PointsExpirationMonths int           `yaml:"pointsExpirationMonths"`
	BirthdayBonusPoints    int64         `yaml:"birthdayBonusPoints"`
	ReferralBonusPoints    int64         `yaml:"referralBonusPoints"`
	RedemptionTTL          time.Duration `yaml:"redemptionTTL"`
}

type fileTier struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	MinPoints  int64    `yaml:"minPoints"`
	Multiplier string   `yaml:"multiplier"`
	Benefits   []string `yaml:"benefits"`
	Color      string   `yaml:"color"`
}

type fileReward struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	PointsCost  int64  `yaml:"pointsCost"`
	Active      bool   `yaml:"active"`
	MinimumTier string `yaml:"minimumTier"`
	ImageURL    string `yaml:"imageUrl"`
	Terms       string `yaml:"terms"`
	CodePrefix  string `yaml:"codePrefix"`
}

type fileMember struct {
	ID             string    `yaml:"id"`
	UserID         string    `yaml:"userId"`
	Points         int64     `yaml:"points"`
	LifetimePoints int64     `yaml:"lifetimePoints"`
	JoinDate       time.Time `yaml:"joinDate"`
	LastActivity   time.Time `yaml:"lastActivity"`
	BirthMonth     *int      `yaml:"birthMonth"`
	BirthDay       *int      `yaml:"birthDay"`

	Transactions []fileTransaction `yaml:"transactions"`
	Redemptions  []fileRedemption  `yaml:"redemptions"`
}

type fileTransaction struct {
	ID          string    `yaml:"id"`
	Type        string    `yaml:"type"`
	Points      int64     `yaml:"points"`
	Description string    `yaml:"description"`
	OrderID     string    `yaml:"orderId"`
	RewardID    string    `yaml:"rewardId"`
	CreatedAt   time.Time `yaml:"createdAt"`
}

type fileRedemption struct {
	ID         string     `yaml:"id"`
	RewardID   string     `yaml:"rewardId"`
	PointsUsed int64      `yaml:"pointsUsed"`
	RedeemedAt time.Time  `yaml:"redeemedAt"`
	ExpiresAt  *time.Time `yaml:"expiresAt"`
	Used       bool       `yaml:"used"`
	UsedAt     *time.Time `yaml:"usedAt"`
	Code       string     `yaml:"code"`
}

type fileProduct struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Subcategory string   `yaml:"subcategory"`
	Image       string   `yaml:"image"`
	Price       string   `yaml:"price"`
	SalePrice   string   `yaml:"salePrice"`
	THCContent  string   `yaml:"thcContent"`
	CBDContent  string   `yaml:"cbdContent"`
	Strain      string   `yaml:"strain"`
	Quantity    string   `yaml:"quantity"`
	Description string   `yaml:"description"`
	Effects     []string `yaml:"effects"`
	Flavors     []string `yaml:"flavors"`
	Featured    bool     `yaml:"featured"`
	IsNew       bool     `yaml:"isNew"`
	OnSale      bool     `yaml:"onSale"`
}

type file struct {
	Program  fileProgram   `yaml:"program"`
	Tiers    []fileTier    `yaml:"tiers"`
	Rewards  []fileReward  `yaml:"rewards"`
	Members  []fileMember  `yaml:"members"`
	Products []fileProduct `yaml:"products"`
}

// Load читает каталог из path. Пустой путь означает встроенный каталог магазина.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Default возвращает встроенный каталог.
func Default() (*Catalog, error) {
	return Parse(defaultFile)
}

// Parse разбирает и проверяет YAML-каталог. Некорректная таблица уровней или наград
// приводит к ошибке сразу, а не при первом обращении.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	program, err := f.Program.build()
	if err != nil {
		return nil, err
	}

	tierList := make([]model.Tier, 0, len(f.Tiers))
	for _, t := range f.Tiers {
		mult, err := parseDecimal(t.Multiplier, "tier "+t.ID+" multiplier")
		if err != nil {
			return nil, err
		}
		tierList = append(tierList, model.Tier{
			ID:         model.TierID(t.ID),
			Name:       t.Name,
			MinPoints:  t.MinPoints,
			Multiplier: mult,
			Benefits:   t.Benefits,
			Color:      t.Color,
		})
	}
	tiers, err := loyalty.NewTierTable(tierList)
	if err != nil {
		return nil, fmt.Errorf("build tiers: %w", err)
	}

	rewardList := make([]model.Reward, 0, len(f.Rewards))
	for _, r := range f.Rewards {
		rewardList = append(rewardList, model.Reward{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			PointsCost:  r.PointsCost,
			Active:      r.Active,
			MinimumTier: model.TierID(r.MinimumTier),
			ImageURL:    r.ImageURL,
			Terms:       r.Terms,
			CodePrefix:  r.CodePrefix,
		})
	}
	rewards, err := loyalty.NewCatalog(rewardList, tiers)
	if err != nil {
		return nil, fmt.Errorf("build rewards: %w", err)
	}

	var (
		transactions []model.Transaction
		redemptions  []model.Redemption
	)
	members := make([]model.Member, 0, len(f.Members))
	for _, m := range f.Members {
		if err := validBirthday(m.BirthMonth, m.BirthDay); err != nil {
			return nil, fmt.Errorf("%w: member %s: %v", ErrInvalidFile, m.ID, err)
		}
		for _, t := range m.Transactions {
			tx, err := t.build(m.ID)
			if err != nil {
				return nil, err
			}
			transactions = append(transactions, tx)
		}
		for _, r := range m.Redemptions {
			if _, ok := rewards.Get(r.RewardID); !ok {
				return nil, fmt.Errorf("%w: redemption %s: unknown reward %q", ErrInvalidFile, r.ID, r.RewardID)
			}
			redemptions = append(redemptions, r.build(m.ID))
		}
		members = append(members, loyalty.WithTier(model.Member{
			ID:             m.ID,
			UserID:         m.UserID,
			Points:         m.Points,
			LifetimePoints: m.LifetimePoints,
			JoinedAt:       m.JoinDate.UTC(),
			LastActivity:   m.LastActivity.UTC(),
			BirthMonth:     m.BirthMonth,
			BirthDay:       m.BirthDay,
		}, tiers))
	}

	products := make([]model.Product, 0, len(f.Products))
	for _, p := range f.Products {
		product, err := p.build()
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}

	return &Catalog{
		Program:  program,
		Tiers:    tiers,
		Rewards:  rewards,
		Members:  members,
		Products: products,

		Transactions: transactions,
		Redemptions:  redemptions,
	}, nil
}

// build собирает запись журнала. Ключ идемпотентности выводится так же, как при
// обычном начислении, чтобы повторная покупка или бонус за тот же год не прошли.
func (t fileTransaction) build(memberID string) (model.Transaction, error) {
	typ := model.TransactionType(t.Type)
	if t.ID == "" || !typ.IsValid() {
		return model.Transaction{}, fmt.Errorf("%w: member %s: transaction %q of type %q", ErrInvalidFile, memberID, t.ID, t.Type)
	}

	tx := model.Transaction{
		ID:          t.ID,
		MemberID:    memberID,
		Type:        typ,
		Points:      t.Points,
		Description: t.Description,
		OrderID:     t.OrderID,
		RewardID:    t.RewardID,
		CreatedAt:   t.CreatedAt.UTC(),
	}
	switch {
	case typ == model.TransactionPurchase && t.OrderID != "":
		tx.IdempotencyKey = "purchase:" + t.OrderID
	case typ == model.TransactionBirthday:
		tx.IdempotencyKey = "birthday:" + strconv.Itoa(tx.CreatedAt.Year())
	}
	return tx, nil
}

func (r fileRedemption) build(memberID string) model.Redemption {
	red := model.Redemption{
		ID:         r.ID,
		MemberID:   memberID,
		RewardID:   r.RewardID,
		PointsUsed: r.PointsUsed,
		RedeemedAt: r.RedeemedAt.UTC(),
		Used:       r.Used,
		Code:       r.Code,
	}
	if r.ExpiresAt != nil {
		v := r.ExpiresAt.UTC()
		red.ExpiresAt = &v
	}
	if r.UsedAt != nil {
		v := r.UsedAt.UTC()
		red.UsedAt = &v
	}
	return red
}

func (p fileProgram) build() (loyalty.Program, error) {
	ppd, err := parseDecimal(p.PointsPerDollar, "pointsPerDollar")
	if err != nil {
		return loyalty.Program{}, err
	}
	minimum, err := parseDecimal(p.MinimumPurchaseAmount, "minimumPurchaseAmount")
	if err != nil {
		return loyalty.Program{}, err
	}

	program := loyalty.Program{
		PointsPerDollar:        ppd,
		MinimumPurchaseAmount:  minimum,
		PointsExpirationMonths: p.PointsExpirationMonths,
		BirthdayBonusPoints:    p.BirthdayBonusPoints,
		ReferralBonusPoints:    p.ReferralBonusPoints,
		RedemptionTTL:          p.RedemptionTTL,
	}
	if program.RedemptionTTL == 0 {
		program.RedemptionTTL = loyalty.DefaultRedemptionTTL
	}
	if err := program.Validate(); err != nil {
		return loyalty.Program{}, err
	}
	return program, nil
}

func (p fileProduct) build() (model.Product, error) {
	if p.ID == "" {
		return model.Product{}, fmt.Errorf("%w: product without id", ErrInvalidFile)
	}
	price, err := parseDecimal(p.Price, "product "+p.ID+" price")
	if err != nil {
		return model.Product{}, err
	}

	product := model.Product{
		ID:          p.ID,
		Name:        p.Name,
		Category:    p.Category,
		Subcategory: p.Subcategory,
		Image:       p.Image,
		Price:       price,
		THCContent:  p.THCContent,
		CBDContent:  p.CBDContent,
		Strain:      p.Strain,
		Quantity:    p.Quantity,
		Description: p.Description,
		Effects:     p.Effects,
		Flavors:     p.Flavors,
		Featured:    p.Featured,
		IsNew:       p.IsNew,
		OnSale:      p.OnSale,
	}
	if p.SalePrice != "" {
		sale, err := parseDecimal(p.SalePrice, "product "+p.ID+" salePrice")
		if err != nil {
			return model.Product{}, err
		}
		product.SalePrice = &sale
	}
	return product, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: %s is required", ErrInvalidFile, field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidFile, field, err)
	}
	return d, nil
}

func validBirthday(month, day *int) error {
	if month == nil && day == nil {
		return nil
	}
	if month == nil || day == nil {
		return errors.New("birth month and day must be set together")
	}
	if *month < 1 || *month > 12 || *day < 1 || *day > 31 {
		return fmt.Errorf("birthday %d/%d out of range", *month, *day)
	}
	return nil
}
