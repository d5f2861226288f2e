package model

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=20,alphanum"`
	Password string `json:"password" validate:"required,min=6,max=32"`
	Email    string `json:"email" validate:"omitempty,email"`
}

// UpdateProfileRequest applies only the fields that are present.
type UpdateProfileRequest struct {
	Email  *string `json:"email" validate:"omitempty,email"`
	Avatar *string `json:"avatar" validate:"omitempty,max=512"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=32"`
}

type UpdateUserStatusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
