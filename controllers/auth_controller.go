package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/CUknot/chat_relay/database"
	"github.com/gin-gonic/gin"
)

type RegisterInput struct {
	Username string `json:"username" binding:"required,min=3,max=64" example:"alice"`
	Password string `json:"password" binding:"required,min=6,max=72" example:"secret123"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required" example:"alice"`
	Password string `json:"password" binding:"required" example:"secret123"`
}

// Disconnector closes the live relay connections of a user.
type Disconnector interface {
	DisconnectUser(userID string) int
}

type AuthController struct {
	Accounts *database.Accounts
	Relay    Disconnector
}

// Register godoc
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param user body RegisterInput true "Registration"
// @Success 201 {object} map[string]interface{} "User registered successfully"
// @Failure 400 {object} map[string]string "Invalid input or username taken"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/register [post]
func (a *AuthController) Register(c *gin.Context) {
	var input RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := a.Accounts.Create(c.Request.Context(), input.Username, input.Password)
	if errors.Is(err, database.ErrUserExists) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username is already taken"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	token, err := a.Accounts.IssueToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    user.Identity(),
		"token":   token,
	})
}

// Login godoc
// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param credentials body LoginInput true "Credentials"
// @Success 200 {object} map[string]interface{} "Login successful"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 401 {object} map[string]string "Invalid username or password"
// @Router /api/login [post]
func (a *AuthController) Login(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := a.Accounts.FindByUsername(c.Request.Context(), input.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	// Validate password
	if err := user.ValidatePassword(input.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := a.Accounts.IssueToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"user":    user.Identity(),
		"token":   token,
	})
}

// Me godoc
// @Summary Who am I
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "Current user"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /api/me [get]
func (a *AuthController) Me(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	user, err := a.Accounts.FindByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"loggedIn": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"loggedIn": true, "user": user.Identity()})
}

// Logout godoc
// @Summary Log out, revoking every token of the user and closing their live chat connections
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "Logged out"
// @Failure 404 {object} map[string]string "User not found"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/logout [post]
func (a *AuthController) Logout(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	err := a.Accounts.RevokeTokens(c.Request.Context(), userID)
	if errors.Is(err, database.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log out"})
		return
	}

	closed := a.Relay.DisconnectUser(strconv.FormatUint(uint64(userID), 10))
	c.JSON(http.StatusOK, gin.H{"message": "Logged out", "closed_connections": closed})
}

// DeleteAccount godoc
// @Summary Delete the authenticated account
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Account deleted"
// @Failure 404 {object} map[string]string "User not found"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/account [delete]
func (a *AuthController) DeleteAccount(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	err := a.Accounts.Delete(c.Request.Context(), userID)
	if errors.Is(err, database.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete account"})
		return
	}

	a.Relay.DisconnectUser(strconv.FormatUint(uint64(userID), 10))
	c.JSON(http.StatusOK, gin.H{"message": "Account deleted"})
}
