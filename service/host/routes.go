package host

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/cmd/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/hosts/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/hosts/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/hosts/refresh", h.handleRefreshToken).Methods("POST")
	router.HandleFunc("/hosts/me", utils.JWTAuthMiddleware(h.GetProfile)).Methods("GET")
	router.HandleFunc("/hosts/me", utils.JWTAuthMiddleware(h.UpdateProfile)).Methods("PUT")
	router.HandleFunc("/hosts/me/stats", utils.JWTAuthMiddleware(h.GetStats)).Methods("GET")
	router.HandleFunc("/hosts/me/rotate-key", utils.JWTAuthMiddleware(h.RotateAPIKey)).Methods("POST")
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var registerRequest struct {
		Name            string `json:"name"`
		Email           string `json:"email"`
		Password        string `json:"password"`
		SubscriberLimit int    `json:"subscriber_limit,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&registerRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if registerRequest.Name == "" || registerRequest.Email == "" || registerRequest.Password == "" {
		http.Error(w, "Name, email and password are required", http.StatusBadRequest)
		return
	}

	var existing models.Host
	if err := h.db.Where("email = ?", registerRequest.Email).First(&existing).Error; err == nil {
		http.Error(w, "Email already registered", http.StatusConflict)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(registerRequest.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error processing password", http.StatusInternalServerError)
		return
	}

	host := models.Host{
		Name:            registerRequest.Name,
		Email:           registerRequest.Email,
		PasswordHash:    string(passwordHash),
		APIKey:          uuid.NewString(),
		Active:          true,
		SubscriberLimit: registerRequest.SubscriberLimit,
	}
	if err := h.db.Create(&host).Error; err != nil {
		http.Error(w, "Error creating host", http.StatusInternalServerError)
		return
	}

	// The api key is shown once here; afterwards only rotation reveals a key.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Host registered",
		"host_id": host.ID,
		"api_key": host.APIKey,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&loginRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var host models.Host
	result := h.db.Where("email = ?", loginRequest.Email).First(&host)
	if result.Error != nil {
		http.Error(w, "Host not found", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(host.PasswordHash), []byte(loginRequest.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if !host.Active {
		http.Error(w, "Host account is deactivated", http.StatusForbidden)
		return
	}

	accessToken, err := generateJWT(host.ID, 15)
	if err != nil {
		http.Error(w, "Error generating access token", http.StatusInternalServerError)
		return
	}

	refreshToken, err := generateRefreshToken(host.ID)
	if err != nil {
		http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
		return
	}

	if err := saveRefreshToken(h.db, host.ID, refreshToken); err != nil {
		http.Error(w, "Error saving refresh token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":       "Login successful",
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"host_id":       host.ID,
	})
}

func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	logger := log.New(os.Stdout, "RefreshToken: ", log.Ldate|log.Ltime|log.Lshortfile)

	var refreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&refreshRequest); err != nil {
		logger.Printf("Decoding error: %v", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	tx := h.db.Begin()

	var host models.Host
	if err := tx.Where("refresh_token = ?", refreshRequest.RefreshToken).First(&host).Error; err != nil {
		tx.Rollback()
		logger.Printf("Invalid refresh token")
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	if host.RefreshTokenExpiredAt.Before(time.Now()) {
		tx.Rollback()
		logger.Printf("Expired refresh token for host ID: %d", host.ID)
		http.Error(w, "Refresh token expired", http.StatusUnauthorized)
		return
	}

	newAccessToken, err := generateJWT(host.ID, 15)
	if err != nil {
		tx.Rollback()
		logger.Printf("Failed to generate access token for host ID: %d, error: %v", host.ID, err)
		http.Error(w, "Error generating new token", http.StatusInternalServerError)
		return
	}

	// Rotate the refresh token on every use.
	newRefreshToken, err := generateRefreshToken(host.ID)
	if err != nil {
		tx.Rollback()
		logger.Printf("Failed to generate refresh token for host ID: %d, error: %v", host.ID, err)
		http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
		return
	}

	updateResult := tx.Model(&host).Updates(models.Host{
		Refresh:               newRefreshToken,
		RefreshTokenExpiredAt: time.Now().Add(30 * 24 * time.Hour),
	})
	if updateResult.Error != nil {
		tx.Rollback()
		logger.Printf("Failed to update refresh token for host ID: %d, error: %v", host.ID, updateResult.Error)
		http.Error(w, "Error updating refresh token", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		logger.Printf("Transaction commit error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"access_token":  newAccessToken,
		"refresh_token": newRefreshToken,
	})
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var host models.Host
	if err := h.db.First(&host, hostID).Error; err != nil {
		http.Error(w, "Host not found", http.StatusNotFound)
		return
	}
	host.APIKey = ""

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(host)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name     *string `json:"name,omitempty"`
		Password *string `json:"password,omitempty"`
		Active   *bool   `json:"active,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Password != nil {
		passwordHash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "Error processing password", http.StatusInternalServerError)
			return
		}
		updates["password_hash"] = string(passwordHash)
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		http.Error(w, "Nothing to update", http.StatusBadRequest)
		return
	}

	if err := h.db.Model(&models.Host{}).Where("id = ?", hostID).Updates(updates).Error; err != nil {
		http.Error(w, "Error updating host", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Host updated"})
}

// RotateAPIKey replaces the ingest key. The old key stops working
// immediately.
func (h *Handler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	newKey := uuid.NewString()
	if err := h.db.Model(&models.Host{}).Where("id = ?", hostID).Update("api_key", newKey).Error; err != nil {
		http.Error(w, "Error rotating API key", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"api_key": newKey})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var totalSignals int64
	h.db.Model(&models.Signal{}).Where("host_id = ?", hostID).Count(&totalSignals)

	var totalSubscribers int64
	h.db.Model(&models.Subscriber{}).Where("host_id = ?", hostID).Count(&totalSubscribers)

	var activeSubscribers int64
	h.db.Model(&models.Subscriber{}).
		Where("host_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
			hostID, models.SubscriberActive, time.Now()).
		Count(&activeSubscribers)

	type statusCount struct {
		Status string
		Count  int64
	}
	var byStatus []statusCount
	h.db.Model(&models.Delivery{}).
		Select("deliveries.status, count(*) as count").
		Joins("JOIN signals ON signals.id = deliveries.signal_id").
		Where("signals.host_id = ?", hostID).
		Group("deliveries.status").
		Scan(&byStatus)

	deliveryCounts := map[string]int64{}
	for _, row := range byStatus {
		deliveryCounts[row.Status] = row.Count
	}

	type subscriberCount struct {
		SubscriberID uint   `json:"subscriber_id"`
		Name         string `json:"name"`
		Status       string `json:"status"`
		Count        int64  `json:"count"`
	}
	var bySubscriber []subscriberCount
	h.db.Model(&models.Delivery{}).
		Select("deliveries.subscriber_id, subscribers.name, deliveries.status, count(*) as count").
		Joins("JOIN subscribers ON subscribers.id = deliveries.subscriber_id").
		Where("subscribers.host_id = ?", hostID).
		Group("deliveries.subscriber_id, subscribers.name, deliveries.status").
		Order("deliveries.subscriber_id").
		Scan(&bySubscriber)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total_signals":      totalSignals,
		"total_subscribers":  totalSubscribers,
		"active_subscribers": activeSubscribers,
		"deliveries":         deliveryCounts,
		"by_subscriber":      bySubscriber,
	})
}

func generateJWT(hostID uint, expirationMinutes int) (string, error) {
	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(hostID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute * time.Duration(expirationMinutes))),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// The secret is read per call, not at package init: godotenv loads the
	// environment after this package initializes.
	return token.SignedString([]byte(os.Getenv("SECRET_KEY")))
}

func generateRefreshToken(hostID uint) (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(os.Getenv("SECRET_KEY")))
	mac.Write([]byte(fmt.Sprintf("%d", hostID)))
	mac.Write(b)

	signature := mac.Sum(nil)
	return fmt.Sprintf("%d_%x_%x", hostID, b, signature), nil
}

func saveRefreshToken(db *gorm.DB, hostID uint, refreshToken string) error {
	expirationTime := time.Now().Add(30 * 24 * time.Hour)
	return db.Model(&models.Host{}).Where("id = ?", hostID).Updates(map[string]interface{}{
		"refresh_token":            refreshToken,
		"refresh_token_expired_at": expirationTime,
	}).Error
}
