package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"donatenow/authz"
	"donatenow/config"
	"donatenow/identity"
	"donatenow/ledger"
	"donatenow/logging"
	"donatenow/media"
	"donatenow/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	cfg        *config.Config
	idp        *identity.Provider
	ledgerSvc  *ledger.Service
	ledgerDB   ledger.Store
	enforcer   *authz.Enforcer
	mediaStore *media.Store
)

func setupRoutes(r *gin.Engine) {
	registerValidators()

	r.GET("/healthz", healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static(media.URLPrefix, mediaStore.BaseDir())

	api := r.Group("/api")
	api.POST("/register", registerHandler)
	api.POST("/login", loginHandler)
	api.POST("/refresh", refreshHandler)
	api.POST("/revoke_refresh", revokeRefreshHandler)

	api.GET("/causes", listCausesHandler)
	api.GET("/causes/:id", getCauseHandler)
	api.GET("/causes/:id/transactions", causeTransactionsHandler)
	api.POST("/causes/:id/donate", rateLimit(cfg.RateLimit.DonateRPS, cfg.RateLimit.DonateBurst), idp.OptionalAuth(), donateHandler)
	api.GET("/stories", listStoriesHandler)
	api.GET("/analytics/summary", analyticsSummaryHandler)

	authGroup := api.Group("")
	authGroup.Use(idp.RequireAuth())
	authGroup.GET("/me", meHandler)
	authGroup.POST("/causes", createCauseHandler)
	authGroup.PUT("/causes/:id", updateCauseHandler)
	authGroup.DELETE("/causes/:id", deleteCauseHandler)
	authGroup.POST("/causes/:id/like", likeCauseHandler)
	authGroup.POST("/stories", createStoryHandler)
}

// registerValidators adds the "money" tag to gin's validator and keeps JSON
// numbers exact so amounts are not rounded through float64.
func registerValidators() {
	binding.EnableDecoderUseNumber = true
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
			_, err := ledger.ParseAmount(fl.Field().Interface())
			return err == nil
		})
	}
}

// ledgerErrorStatus maps ledger errors onto HTTP responses.
func ledgerErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, ledger.ErrCauseNotFound):
		return http.StatusNotFound, "Cause not found"
	case errors.Is(err, ledger.ErrCauseClosed):
		return http.StatusBadRequest, "Cause is closed"
	case errors.Is(err, ledger.ErrStorageConflict):
		return http.StatusServiceUnavailable, "Too much activity on this cause, please retry"
	default:
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	}
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func healthHandler(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if db != nil {
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		}
	}
	if b, ok := ledgerDB.(*ledger.BreakerStore); ok {
		body["ledger_breaker"] = b.State()
	}
	c.JSON(status, body)
}

// --- donations ---

type donateRequest struct {
	Amount  any    `json:"amount" binding:"required,money"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Place   string `json:"place"`
}

func donateHandler(c *gin.Context) {
	var req donateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}
	causeID, ok := paramID(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cause not found"})
		return
	}

	res, err := ledgerSvc.Donate(c.Request.Context(), causeID, ledger.DonationInput{
		Amount:  amount,
		Name:    req.Name,
		Message: req.Message,
		Place:   req.Place,
	}, identity.PrincipalFrom(c))
	if err != nil {
		status, msg := ledgerErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "donationId": res.Donation.ID, "goalReached": res.GoalReached})
}

type causeView struct {
	models.Cause
	CreatorName string `json:"creatorName"`
}

type donationView struct {
	DonorName string          `json:"donorName"`
	Amount    decimal.Decimal `json:"amount"`
	Message   *string         `json:"message"`
	Place     *string         `json:"place"`
	Timestamp time.Time       `json:"timestamp"`
}

func getCauseHandler(c *gin.Context) {
	causeID, ok := paramID(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cause not found"})
		return
	}
	detail, err := ledgerSvc.CauseDetail(c.Request.Context(), causeID)
	if err != nil {
		status, msg := ledgerErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	donations := make([]donationView, 0, len(detail.Donations))
	for _, d := range detail.Donations {
		donations = append(donations, donationView{
			DonorName: d.DonorName,
			Amount:    d.Amount,
			Message:   d.Message,
			Place:     d.Place,
			Timestamp: d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"cause":     causeView{Cause: *detail.Cause, CreatorName: detail.CreatorName},
		"donations": donations,
	})
}

// causeTransactionsHandler lists every donation of a cause with the name of
// the registered donor, if any.
func causeTransactionsHandler(c *gin.Context) {
	causeID, ok := paramID(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cause not found"})
		return
	}
	type row struct {
		models.Donation
		DonorUser *string `json:"donorUser"`
	}
	rows := []row{}
	err := db.Table("donations AS d").
		Select("d.*, u.name AS donor_user").
		Joins("LEFT JOIN users u ON d.user_id = u.id").
		Where("d.cause_id = ?", causeID).
		Order("d.created_at DESC, d.id DESC").
		Scan(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// --- causes ---

// listCausesHandler returns open causes, newest first.
func listCausesHandler(c *gin.Context) {
	views := []causeView{}
	err := db.Table("causes AS c").
		Select("c.*, u.name AS creator_name").
		Joins("LEFT JOIN users u ON c.creator_id = u.id").
		Where("c.status = ?", models.CauseOpen).
		Order("c.created_at DESC").
		Scan(&views).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, views)
}

// causeInput is the editable part of a cause, read from JSON or a multipart
// form. Empty fields mean "unchanged" on update.
type causeInput struct {
	Title       string
	Description string
	Goal        any
	EndDate     string
}

func readCauseInput(c *gin.Context) (causeInput, error) {
	if c.ContentType() == binding.MIMEJSON {
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Goal        any    `json:"goal_amount"`
			EndDate     string `json:"end_date"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return causeInput{}, err
		}
		return causeInput{Title: req.Title, Description: req.Description, Goal: req.Goal, EndDate: req.EndDate}, nil
	}
	in := causeInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		EndDate:     c.PostForm("end_date"),
	}
	if v, ok := c.GetPostForm("goal_amount"); ok && strings.TrimSpace(v) != "" {
		in.Goal = v
	}
	return in, nil
}

func parseEndDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("end_date must be YYYY-MM-DD or RFC3339")
}

// saveUpload stores an optional uploaded file; a missing field is not an error.
func saveUpload(c *gin.Context, field string) (*media.Ref, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	return mediaStore.Save(fh)
}

func uploadErrorResponse(c *gin.Context, err error) {
	if errors.Is(err, media.ErrTooLarge) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logging.Ctx(c.Request.Context()).Error().Err(err).Msg("upload failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
}

func createCauseHandler(c *gin.Context) {
	p := identity.PrincipalFrom(c)
	if ok, err := enforcer.Can(p, 0, authz.ObjCause, authz.ActCreate); err != nil || !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	in, err := readCauseInput(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(in.Title) == "" || in.Goal == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}
	goal, err := ledger.ParseGoal(in.Goal)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid goal amount"})
		return
	}
	endDate, err := parseEndDate(in.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cause := models.Cause{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Goal:        goal,
		Raised:      decimal.Zero,
		Status:      models.CauseOpen,
		EndDate:     endDate,
		CreatorID:   p.ID,
	}
	ref, err := saveUpload(c, "photo")
	if err != nil {
		uploadErrorResponse(c, err)
		return
	}
	if ref != nil {
		cause.Photo = ref.Path
	}
	if err := db.Create(&cause).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	logging.Ctx(c.Request.Context()).Info().Uint("cause_id", cause.ID).Uint("creator_id", p.ID).Msg("cause created")
	c.JSON(http.StatusOK, cause)
}

// loadCauseForChange fetches the cause and checks the caller may act on it.
func loadCauseForChange(c *gin.Context, act string) (*models.Cause, bool) {
	causeID, ok := paramID(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return nil, false
	}
	var cause models.Cause
	if err := db.First(&cause, causeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		}
		return nil, false
	}
	allowed, err := enforcer.Can(identity.PrincipalFrom(c), cause.CreatorID, authz.ObjCause, act)
	if err != nil || !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return nil, false
	}
	return &cause, true
}

// updateCauseHandler edits the descriptive fields of a cause. Raised and
// status belong to the ledger and are never written here.
func updateCauseHandler(c *gin.Context) {
	cause, ok := loadCauseForChange(c, authz.ActEdit)
	if !ok {
		return
	}
	in, err := readCauseInput(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updates := map[string]any{}
	if t := strings.TrimSpace(in.Title); t != "" {
		updates["title"] = t
	}
	if in.Description != "" {
		updates["description"] = in.Description
	}
	if in.Goal != nil {
		goal, err := ledger.ParseGoal(in.Goal)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid goal amount"})
			return
		}
		updates["goal"] = goal
	}
	if in.EndDate != "" {
		endDate, err := parseEndDate(in.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updates["end_date"] = endDate
	}
	ref, err := saveUpload(c, "photo")
	if err != nil {
		uploadErrorResponse(c, err)
		return
	}
	if ref != nil {
		updates["photo"] = ref.Path
	}
	if len(updates) > 0 {
		if err := db.Model(&models.Cause{}).Where("id = ?", cause.ID).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
			return
		}
	}
	var updated models.Cause
	if err := db.First(&updated, cause.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if ref != nil && cause.Photo != "" {
		if err := mediaStore.Remove(cause.Photo); err != nil {
			logging.Ctx(c.Request.Context()).Warn().Err(err).Str("photo", cause.Photo).Msg("failed to remove old photo")
		}
	}
	c.JSON(http.StatusOK, updated)
}

func deleteCauseHandler(c *gin.Context) {
	cause, ok := loadCauseForChange(c, authz.ActDelete)
	if !ok {
		return
	}
	if err := db.Delete(&models.Cause{}, cause.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if cause.Photo != "" {
		if err := mediaStore.Remove(cause.Photo); err != nil {
			logging.Ctx(c.Request.Context()).Warn().Err(err).Str("photo", cause.Photo).Msg("failed to remove photo")
		}
	}
	logging.Ctx(c.Request.Context()).Info().Uint("cause_id", cause.ID).Msg("cause deleted")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// likeCauseHandler toggles the caller's like on a cause.
func likeCauseHandler(c *gin.Context) {
	p := identity.PrincipalFrom(c)
	causeID, ok := paramID(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	if ok, err := enforcer.Can(p, 0, authz.ObjCause, authz.ActLike); err != nil || !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	var cnt int64
	if err := db.Model(&models.Cause{}).Where("id = ?", causeID).Count(&cnt).Error; err != nil || cnt == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	res := db.Where("user_id = ? AND cause_id = ?", p.ID, causeID).Delete(&models.Like{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if res.RowsAffected > 0 {
		c.JSON(http.StatusOK, gin.H{"liked": false})
		return
	}
	like := models.Like{UserID: p.ID, CauseID: causeID}
	if err := db.Omit("Cause").Create(&like).Error; err != nil {
		if isUniqueConstraintError(err) {
			c.JSON(http.StatusOK, gin.H{"liked": true})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "like failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": true})
}

// --- stories ---

func listStoriesHandler(c *gin.Context) {
	stories := []models.Story{}
	if err := db.Where("approved = ?", true).Order("created_at DESC, id DESC").Find(&stories).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, stories)
}

// createStoryHandler publishes a manual story for a cause the caller owns
// (or any cause, for admins).
func createStoryHandler(c *gin.Context) {
	p := identity.PrincipalFrom(c)
	var causeRef, title, text string
	if c.ContentType() == binding.MIMEJSON {
		var body struct {
			CauseID any    `json:"cause_id"`
			Title   string `json:"title"`
			Story   string `json:"story"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		causeRef, title, text = toString(body.CauseID), body.Title, body.Story
	} else {
		causeRef, title, text = c.PostForm("cause_id"), c.PostForm("title"), c.PostForm("story")
	}
	causeRef, title = strings.TrimSpace(causeRef), strings.TrimSpace(title)
	if causeRef == "" || title == "" || strings.TrimSpace(text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}
	causeID, err := strconv.ParseUint(causeRef, 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cause not found"})
		return
	}
	var cause models.Cause
	if err := db.First(&cause, causeID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cause not found"})
		return
	}
	if ok, err := enforcer.Can(p, cause.CreatorID, authz.ObjStory, authz.ActCreate); err != nil || !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	author := strings.TrimSpace(p.Name)
	if author == "" {
		author = ledger.DefaultStoryAuthor
	}
	cid := cause.ID
	story := models.Story{CauseID: &cid, Title: title, AuthorName: author, Text: text, Approved: true}
	ref, err := saveUpload(c, "media")
	if err != nil {
		uploadErrorResponse(c, err)
		return
	}
	if ref != nil {
		path := ref.Path
		if ref.Kind == media.KindImage {
			story.Image = &path
		} else {
			story.Video = &path
		}
	}
	if err := db.Create(&story).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "story": story})
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case interface{ String() string }:
		return x.String()
	default:
		return ""
	}
}

// --- profile & analytics ---

func meHandler(c *gin.Context) {
	p := identity.PrincipalFrom(c)
	var user models.User
	if err := db.First(&user, p.ID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	type donationRow struct {
		models.Donation
		CauseTitle *string `json:"causeTitle"`
	}
	donations := []donationRow{}
	if err := db.Table("donations AS d").
		Select("d.*, c.title AS cause_title").
		Joins("LEFT JOIN causes c ON d.cause_id = c.id").
		Where("d.user_id = ?", user.ID).
		Order("d.created_at DESC").
		Scan(&donations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	created := []models.Cause{}
	if err := db.Where("creator_id = ?", user.ID).Order("created_at DESC").Find(&created).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	type likeRow struct {
		models.Like
		Title *string `json:"title"`
	}
	likes := []likeRow{}
	if err := db.Table("likes AS l").
		Select("l.*, c.title AS title").
		Joins("LEFT JOIN causes c ON l.cause_id = c.id").
		Where("l.user_id = ?", user.ID).
		Scan(&likes).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
			"role":  p.Role,
			"extra": user.Extra,
		},
		"donations": donations,
		"created":   created,
		"likes":     likes,
	})
}

// analyticsSummaryHandler returns the donation total of every cause.
func analyticsSummaryHandler(c *gin.Context) {
	type summary struct {
		ID    uint            `json:"id"`
		Title string          `json:"title"`
		Total decimal.Decimal `json:"total"`
	}
	rows := []summary{}
	err := db.Raw(`SELECT c.id, c.title, COALESCE(SUM(d.amount), 0) AS total
		FROM causes c LEFT JOIN donations d ON d.cause_id = c.id
		GROUP BY c.id, c.title ORDER BY c.id`).Scan(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// --- identity ---

func registerHandler(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}
	user, err := RegisterUser(req.Name, req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": registerErrorMessage(err)})
		return
	}
	issueSession(c, user)
}

// registerErrorMessage is the client-facing text for a failed registration.
// Every failure, a taken email included, is a 400.
func registerErrorMessage(err error) string {
	if errors.Is(err, errUserExists) {
		return "User exists"
	}
	return err.Error()
}

func loginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}
	user, err := Authenticate(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid"})
		return
	}
	issueSession(c, user)
}

// issueSession responds with an access token, a refresh token and the
// public user fields.
func issueSession(c *gin.Context, user models.User) {
	p := principalFor(user)
	token, err := idp.Issue(p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":          gin.H{"id": user.ID, "name": user.Name, "email": user.Email, "role": p.Role},
		"token":         token,
		"refresh_token": refreshToken,
	})
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	token, err := idp.Issue(principalFor(user))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate: the old token is revoked only if nobody else rotated it first
	res := db.Model(&models.RefreshToken{}).Where("id = ? AND revoked = ?", rt.ID, false).Update("revoked", true)
	if res.Error != nil || res.RowsAffected == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	if err := db.Model(rt).Update("revoked", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}
