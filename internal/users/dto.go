package users

import (
	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
)

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	Email    string
	FullName string
}

func (c CreateUserDTO) ToModel() *models.User {
	return &models.User{
		Email:    c.Email,
		FullName: c.FullName,
	}
}
