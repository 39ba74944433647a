package controllers

import (
	"encoding/json"
	"github.com/go-playground/validator/v10"
	"loanservicing/config"
	"loanservicing/middleware"
	"loanservicing/services"
	"net/http"
	"regexp"
	"time"
)

type AuthController struct {
	users    *services.UserService
	validate *validator.Validate
	config   *config.Config
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type SignInResponse struct {
	Token string `json:"token"`
}

type SignUpRequest struct {
	FirstName string `json:"firstName" validate:"required,min=2,max=50,alpha"`
	LastName  string `json:"lastName" validate:"required,min=2,max=50,alpha"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,password"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  struct {
		ID        uint   `json:"id"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Role      string `json:"role"`
	} `json:"user"`
}

var (
	hasNumber  = regexp.MustCompile(`[0-9]`)
	hasUpper   = regexp.MustCompile(`[A-Z]`)
	hasLower   = regexp.MustCompile(`[a-z]`)
	hasSpecial = regexp.MustCompile(`[!@#$%^&*]`)
)

func NewAuthController(users *services.UserService, cfg *config.Config) *AuthController {
	validate := validator.New()

	// Регистрация кастомной валидации для пароля
	validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		password := fl.Field().String()
		return hasNumber.MatchString(password) &&
			hasUpper.MatchString(password) &&
			hasLower.MatchString(password) &&
			hasSpecial.MatchString(password)
	})

	return &AuthController{
		users:    users,
		validate: validate,
		config:   cfg,
	}
}

// SignIn обрабатывает вход пользователя
func (c *AuthController) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Валидация запроса
	if err := c.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := c.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := middleware.GenerateToken(user, c.JWTKey(), c.tokenTTL())
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, SignInResponse{Token: token})
}

// SignUp регистрирует клиента
func (c *AuthController) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Валидация запроса
	if err := c.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := c.users.CreateUser(r.Context(), services.CreateUserRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := middleware.GenerateToken(user, c.JWTKey(), c.tokenTTL())
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	var response AuthResponse
	response.Token = token
	response.User.ID = user.ID
	response.User.FirstName = user.FirstName
	response.User.LastName = user.LastName
	response.User.Email = user.Email
	response.User.Role = string(user.Role)

	writeJSON(w, http.StatusCreated, response)
}

// JWTKey возвращает ключ для JWT
func (c *AuthController) JWTKey() []byte {
	return []byte(c.config.JWT.SecretKey)
}

// tokenTTL время жизни JWT токена
func (c *AuthController) tokenTTL() time.Duration {
	return time.Duration(c.config.JWT.ExpiresIn) * time.Hour
}
