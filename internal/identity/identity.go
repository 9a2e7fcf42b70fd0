// Package identity resolves chat users to enrolled accounts and roles, and
// handles first-login linking and enrolment.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/zulandar/motorpool/internal/db"
	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNotRegistered         = errors.New("identity: chat user is not linked to an account")
	ErrInvalidCredentials    = errors.New("identity: cpf and registration do not match an active account")
	ErrAlreadyLinked         = errors.New("identity: account is linked to another chat user")
	ErrDuplicateCPF          = errors.New("identity: cpf already enrolled")
	ErrDuplicateRegistration = errors.New("identity: registration already enrolled")
	ErrInvalidCPF            = errors.New("identity: cpf must have exactly 11 digits")
	ErrInvalidRegistration   = errors.New("identity: registration must have at least 3 characters")
	ErrInvalidName           = errors.New("identity: name must have at least 2 characters")
)

// Person is an authenticated chat user.
type Person struct {
	AccountID uint
	UserID    string // chat platform user id
	ChatID    string // where direct messages are delivered
	Name      string
	Role      Role
}

// Directory reads and writes enrolled accounts.
type Directory struct {
	db *gorm.DB
}

// NewDirectory returns a Directory backed by gdb.
func NewDirectory(gdb *gorm.DB) (*Directory, error) {
	if gdb == nil {
		return nil, fmt.Errorf("identity: db is required")
	}
	return &Directory{db: gdb}, nil
}

// Authenticate returns the active account linked to chatUserID.
func (d *Directory) Authenticate(ctx context.Context, chatUserID string) (Person, error) {
	var u models.User
	err := d.db.WithContext(ctx).
		Where("chat_user_id = ? AND active = ?", chatUserID, true).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Person{}, ErrNotRegistered
	}
	if err != nil {
		return Person{}, fmt.Errorf("identity: authenticate %s: %w", chatUserID, err)
	}
	return toPerson(u), nil
}

// UsersWithRole returns every active, linked account holding exactly role.
func (d *Directory) UsersWithRole(ctx context.Context, role Role) ([]Person, error) {
	var users []models.User
	err := d.db.WithContext(ctx).
		Where("role = ? AND active = ? AND chat_user_id IS NOT NULL", string(role), true).
		Order("id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("identity: users with role %s: %w", role, err)
	}
	out := make([]Person, 0, len(users))
	for _, u := range users {
		out = append(out, toPerson(u))
	}
	return out, nil
}

// Verify checks a CPF/registration pair. It fails with ErrAlreadyLinked when
// the account is already bound to a chat user other than chatUserID.
func (d *Directory) Verify(ctx context.Context, cpf, registration, chatUserID string) (models.User, error) {
	var u models.User
	err := d.db.WithContext(ctx).
		Where("cpf = ? AND registration = ? AND active = ?", cpf, registration, true).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, fmt.Errorf("identity: verify %s: %w", registration, err)
	}
	if u.ChatUserID != nil && *u.ChatUserID != chatUserID {
		return models.User{}, ErrAlreadyLinked
	}
	return u, nil
}

// Link binds an account to a chat user. An empty name keeps the stored one.
func (d *Directory) Link(ctx context.Context, accountID uint, chatUserID, chatID, name string) (Person, error) {
	var person Person
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.First(&u, accountID).Error; err != nil {
			return err
		}
		if u.ChatUserID != nil && *u.ChatUserID != chatUserID {
			return ErrAlreadyLinked
		}
		updates := map[string]interface{}{
			"chat_user_id": chatUserID,
			"chat_id":      chatID,
		}
		if name != "" {
			updates["name"] = name
		}
		if err := tx.Model(&u).Updates(updates).Error; err != nil {
			if db.IsDuplicateKey(err) {
				return ErrAlreadyLinked
			}
			return err
		}
		if err := tx.First(&u, accountID).Error; err != nil {
			return err
		}
		person = toPerson(u)
		return nil
	})
	if errors.Is(err, ErrAlreadyLinked) {
		return Person{}, err
	}
	if err != nil {
		return Person{}, fmt.Errorf("identity: link account %d: %w", accountID, err)
	}
	return person, nil
}

// Taken reports whether the CPF or registration is already enrolled.
func (d *Directory) Taken(ctx context.Context, cpf, registration string) (cpfTaken, registrationTaken bool, err error) {
	var n int64
	if cpf != "" {
		if err := d.db.WithContext(ctx).Model(&models.User{}).Where("cpf = ?", cpf).Count(&n).Error; err != nil {
			return false, false, fmt.Errorf("identity: check cpf: %w", err)
		}
		cpfTaken = n > 0
	}
	if registration != "" {
		if err := d.db.WithContext(ctx).Model(&models.User{}).Where("registration = ?", registration).Count(&n).Error; err != nil {
			return false, false, fmt.Errorf("identity: check registration: %w", err)
		}
		registrationTaken = n > 0
	}
	return cpfTaken, registrationTaken, nil
}

// Enroll creates an unlinked account that its owner can later claim by
// logging in with the same CPF and registration.
func (d *Directory) Enroll(ctx context.Context, cpf, registration string, role Role) (models.User, error) {
	if !role.Valid() {
		return models.User{}, fmt.Errorf("identity: unknown role %q", role)
	}
	cpfTaken, regTaken, err := d.Taken(ctx, cpf, registration)
	if err != nil {
		return models.User{}, err
	}
	if cpfTaken {
		return models.User{}, ErrDuplicateCPF
	}
	if regTaken {
		return models.User{}, ErrDuplicateRegistration
	}
	u := models.User{CPF: cpf, Registration: registration, Role: string(role), Active: true}
	if err := d.db.WithContext(ctx).Create(&u).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return models.User{}, ErrDuplicateCPF
		}
		return models.User{}, fmt.Errorf("identity: enroll %s: %w", registration, err)
	}
	return u, nil
}

// Account loads an account by id.
func (d *Directory) Account(ctx context.Context, accountID uint) (models.User, error) {
	var u models.User
	if err := d.db.WithContext(ctx).First(&u, accountID).Error; err != nil {
		return models.User{}, fmt.Errorf("identity: account %d: %w", accountID, err)
	}
	return u, nil
}

// List returns every account ordered by id.
func (d *Directory) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := d.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("identity: list users: %w", err)
	}
	return users, nil
}

// NormalizeCPF strips punctuation and requires exactly 11 digits.
func NormalizeCPF(s string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
	if len(digits) != 11 {
		return "", ErrInvalidCPF
	}
	return digits, nil
}

// NormalizeRegistration trims and uppercases a registration number.
func NormalizeRegistration(s string) (string, error) {
	reg := strings.ToUpper(strings.TrimSpace(s))
	if len(reg) < 3 {
		return "", ErrInvalidRegistration
	}
	return reg, nil
}

// NormalizeName trims a display name and requires at least 2 characters.
func NormalizeName(s string) (string, error) {
	name := strings.TrimSpace(s)
	if len([]rune(name)) < 2 {
		return "", ErrInvalidName
	}
	return name, nil
}

func toPerson(u models.User) Person {
	p := Person{AccountID: u.ID, ChatID: u.ChatID, Name: u.Name, Role: Role(u.Role)}
	if u.ChatUserID != nil {
		p.UserID = *u.ChatUserID
	}
	if p.Name == "" {
		p.Name = u.Registration
	}
	return p
}
