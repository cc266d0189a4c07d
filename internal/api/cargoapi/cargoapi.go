// Package cargoapi — HTTP API операторской панели: товары, импорт накладных,
// выдача, клиенты и настройки.
package cargoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/BearBump/CargoFlow/internal/services/ingest"
	"github.com/BearBump/CargoFlow/internal/services/pickup"
	"github.com/BearBump/CargoFlow/internal/services/products"
	"github.com/BearBump/CargoFlow/internal/storage/pgcargo"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type ProductsService interface {
	Create(ctx context.Context, in products.CreateInput, actor models.User) (*models.Product, error)
	Update(ctx context.Context, id uint64, in products.UpdateInput, actor models.User) (*models.Product, error)
	BulkStatus(ctx context.Context, ids []uint64, statusID uint64, actor models.User) ([]*models.Product, error)
	GetByIDs(ctx context.Context, ids []uint64) ([]*models.Product, error)
	Get(ctx context.Context, id uint64) (*models.Product, error)
	Delete(ctx context.Context, ids []uint64) (int64, error)
	History(ctx context.Context, productID uint64, limit, offset int) ([]*models.ProductHistory, error)
}

type IngestService interface {
	IngestSourced(ctx context.Context, rows []ingest.Row, actor models.User) (*ingest.Result, error)
	IngestArrived(ctx context.Context, rows []ingest.Row, actor models.User) (*ingest.Result, error)
}

type PickupService interface {
	Issue(ctx context.Context, req pickup.IssueRequest, actor models.User) (*pickup.Receipt, error)
	ArrivedForClient(ctx context.Context, clientCode string) (*models.Client, []*models.Product, error)
}

// Directory — справочные операции, которые API делает напрямую в хранилище.
type Directory interface {
	CreateBranch(ctx context.Context, b *models.Branch) (*models.Branch, error)
	GetBranchByID(ctx context.Context, id uint64) (*models.Branch, error)
	CreateClient(ctx context.Context, c *models.Client) (*models.Client, error)
	UpdateClient(ctx context.Context, c *models.Client) error
	GetClientByCode(ctx context.Context, code string) (*models.Client, error)
	ListStatuses(ctx context.Context) ([]models.Status, error)
	ListActivePaymentMethods(ctx context.Context) ([]models.PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, m *models.PaymentMethod) (*models.PaymentMethod, error)
	GetSettingValue(ctx context.Context, key string) (string, bool, error)
	UpsertSetting(ctx context.Context, key, value string) error
	GetOrCreateUser(ctx context.Context, email string) (*models.User, error)
}

type API struct {
	products ProductsService
	ingest   IngestService
	pickup   PickupService
	dir      Directory
}

func New(p ProductsService, ing IngestService, pk PickupService, dir Directory) *API {
	return &API{products: p, ingest: ing, pickup: pk, dir: dir}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/products", a.createProduct)
		r.Get("/products", a.listProducts)
		r.Delete("/products", a.deleteProducts)
		r.Post("/products/status", a.bulkStatus)
		r.Get("/products/{id}", a.getProduct)
		r.Put("/products/{id}", a.updateProduct)
		r.Get("/products/{id}/history", a.productHistory)

		r.Post("/imports/sourced", a.importSourced)
		r.Post("/imports/arrived", a.importArrived)

		r.Get("/pickup/{clientCode}", a.pickupList)
		r.Post("/pickup/issue", a.pickupIssue)

		r.Post("/branches", a.createBranch)
		r.Get("/branches/{id}", a.getBranch)

		r.Post("/clients", a.createClient)
		r.Get("/clients/{code}", a.getClient)
		r.Put("/clients/{code}", a.updateClient)

		r.Get("/statuses", a.listStatuses)
		r.Get("/payment-methods", a.listPaymentMethods)
		r.Post("/payment-methods", a.createPaymentMethod)
		r.Get("/settings/{key}", a.getSetting)
		r.Put("/settings/{key}", a.putSetting)
	})

	return r
}

// actor определяет пользователя по заголовку X-User-Email. Аутентификация
// живёт на внешнем прокси, сюда приходит уже проверенный email.
func (a *API) actor(r *http.Request) (models.User, error) {
	email := r.Header.Get("X-User-Email")
	if email == "" {
		return models.User{}, errBadRequest("X-User-Email header is required")
	}
	u, err := a.dir.GetOrCreateUser(r.Context(), email)
	if err != nil {
		return models.User{}, err
	}
	return *u, nil
}

type createProductReq struct {
	Code       string   `json:"code"`
	Weight     *float64 `json:"weight,omitempty"`
	Price      *int64   `json:"price,omitempty"`
	ClientCode string   `json:"client_code"`
	StatusName string   `json:"status_name,omitempty"`
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	p, err := a.products.Create(r.Context(), products.CreateInput{
		Code:       req.Code,
		Weight:     req.Weight,
		Price:      req.Price,
		ClientCode: req.ClientCode,
		StatusName: req.StatusName,
	}, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, err)
		return
	}
	ps, err := a.products.GetByIDs(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": toProductDTOs(ps)})
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := a.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

type updateProductReq struct {
	Code       *string  `json:"code,omitempty"`
	Weight     *float64 `json:"weight,omitempty"`
	Price      *int64   `json:"price,omitempty"`
	ClientCode *string  `json:"client_code,omitempty"`
	StatusID   *uint64  `json:"status_id,omitempty"`
	StatusName *string  `json:"status_name,omitempty"`
}

func (a *API) updateProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	p, err := a.products.Update(r.Context(), id, products.UpdateInput{
		Code:       req.Code,
		Weight:     req.Weight,
		Price:      req.Price,
		ClientCode: req.ClientCode,
		StatusID:   req.StatusID,
		StatusName: req.StatusName,
	}, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

type idsReq struct {
	IDs []uint64 `json:"ids"`
}

func (a *API) deleteProducts(w http.ResponseWriter, r *http.Request) {
	if _, err := a.actor(r); err != nil {
		writeError(w, err)
		return
	}
	var req idsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	n, err := a.products.Delete(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

type bulkStatusReq struct {
	IDs      []uint64 `json:"ids"`
	StatusID uint64   `json:"status_id"`
}

func (a *API) bulkStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req bulkStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	ps, err := a.products.BulkStatus(r.Context(), req.IDs, req.StatusID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": toProductDTOs(ps)})
}

func (a *API) productHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	recs, err := a.products.History(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]historyDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, historyDTO{
			ID:          rec.ID,
			ProductID:   rec.ProductID,
			Action:      rec.Action,
			ActionByID:  rec.ActionByID,
			ActionAt:    rec.ActionAt.Format(timeLayout),
			Description: rec.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (a *API) importSourced(w http.ResponseWriter, r *http.Request) {
	a.importWorkbook(w, r, a.ingest.IngestSourced)
}

func (a *API) importArrived(w http.ResponseWriter, r *http.Request) {
	a.importWorkbook(w, r, a.ingest.IngestArrived)
}

func (a *API) importWorkbook(w http.ResponseWriter, r *http.Request, apply func(context.Context, []ingest.Row, models.User) (*ingest.Result, error)) {
	actor, err := a.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, errBadRequest("multipart field \"file\" is required"))
		return
	}
	defer f.Close()

	rows, err := ingest.ParseWorkbook(f)
	if err != nil {
		writeError(w, errBadRequest(err.Error()))
		return
	}
	res, err := apply(r.Context(), rows, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) pickupList(w http.ResponseWriter, r *http.Request) {
	client, ps, err := a.pickup.ArrivedForClient(r.Context(), chi.URLParam(r, "clientCode"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client":   toClientDTO(client),
		"products": toProductDTOs(ps),
	})
}

type issueReq struct {
	ProductIDs      []uint64 `json:"product_ids"`
	PaymentMethodID uint64   `json:"payment_method_id"`
	ClientCode      string   `json:"client_code"`
}

func (a *API) pickupIssue(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req issueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	receipt, err := a.pickup.Issue(r.Context(), pickup.IssueRequest{
		ProductIDs:      req.ProductIDs,
		PaymentMethodID: req.PaymentMethodID,
		ClientCode:      req.ClientCode,
	}, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type createClientReq struct {
	Name           *string `json:"name,omitempty"`
	Number         *string `json:"number,omitempty"`
	City           *string `json:"city,omitempty"`
	TelegramChatID *string `json:"telegram_chat_id,omitempty"`
	BranchID       *uint64 `json:"branch_id,omitempty"`
}

type branchReq struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func (a *API) createBranch(w http.ResponseWriter, r *http.Request) {
	if _, err := a.actor(r); err != nil {
		writeError(w, err)
		return
	}
	var req branchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, errBadRequest("name and code are required"))
		return
	}
	b, err := a.dir.CreateBranch(r.Context(), &models.Branch{Name: req.Name, Code: req.Code})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) getBranch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := a.dir.GetBranchByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if b == nil {
		writeError(w, errors.Wrap(errNotFound, "branch"))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) createClient(w http.ResponseWriter, r *http.Request) {
	if _, err := a.actor(r); err != nil {
		writeError(w, err)
		return
	}
	var req createClientReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	c, err := a.dir.CreateClient(r.Context(), &models.Client{
		Name:           req.Name,
		Number:         req.Number,
		City:           req.City,
		TelegramChatID: req.TelegramChatID,
		BranchID:       req.BranchID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

// updateClient меняет переданные поля; при смене филиала код клиента
// пересчитывается в хранилище.
func (a *API) updateClient(w http.ResponseWriter, r *http.Request) {
	if _, err := a.actor(r); err != nil {
		writeError(w, err)
		return
	}
	c, err := a.dir.GetClientByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		writeError(w, errors.Wrap(errNotFound, "client"))
		return
	}
	var req createClientReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	if req.Name != nil {
		c.Name = req.Name
	}
	if req.Number != nil {
		c.Number = req.Number
	}
	if req.City != nil {
		c.City = req.City
	}
	if req.TelegramChatID != nil {
		c.TelegramChatID = req.TelegramChatID
	}
	if req.BranchID != nil {
		c.BranchID = req.BranchID
	}
	if err := a.dir.UpdateClient(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

func (a *API) getClient(w http.ResponseWriter, r *http.Request) {
	c, err := a.dir.GetClientByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		writeError(w, errors.Wrap(errNotFound, "client"))
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

func (a *API) listStatuses(w http.ResponseWriter, r *http.Request) {
	sts, err := a.dir.ListStatuses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": sts})
}

func (a *API) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	ms, err := a.dir.ListActivePaymentMethods(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_methods": ms})
}

type paymentMethodReq struct {
	Name string `json:"name"`
}

func (a *API) createPaymentMethod(w http.ResponseWriter, r *http.Request) {
	if _, err := a.actor(r); err != nil {
		writeError(w, err)
		return
	}
	var req paymentMethodReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	if req.Name == "" {
		writeError(w, errBadRequest("name is required"))
		return
	}
	m, err := a.dir.CreatePaymentMethod(r.Context(), &models.PaymentMethod{Name: req.Name, IsActive: true})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) getSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok, err := a.dir.GetSettingValue(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errors.Wrapf(errNotFound, "setting %q", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

type settingReq struct {
	Value string `json:"value"`
}

func (a *API) putSetting(w http.ResponseWriter, r *http.Request) {
	if _, err := a.actor(r); err != nil {
		writeError(w, err)
		return
	}
	var req settingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid json"))
		return
	}
	key := chi.URLParam(r, "key")
	if err := a.dir.UpsertSetting(r.Context(), key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errBadRequest("invalid id")
	}
	return id, nil
}

func parseIDList(s string) ([]uint64, error) {
	if s == "" {
		return nil, errBadRequest("ids query param is required")
	}
	parts := strings.Split(s, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errBadRequest("invalid ids query param")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var errNotFound = errors.New("not found")

type badRequestError string

func errBadRequest(msg string) error { return badRequestError(msg) }

func (e badRequestError) Error() string { return string(e) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case isBadRequest(err):
		code = http.StatusBadRequest
	case isNotFound(err):
		code = http.StatusNotFound
	case errors.Is(err, pgcargo.ErrNothingToIssue):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func isBadRequest(err error) bool {
	var br badRequestError
	if errors.As(err, &br) {
		return true
	}
	return errors.Is(err, pickup.ErrNoProductsSelected) ||
		errors.Is(err, pickup.ErrNoPaymentMethod) ||
		errors.Is(err, pickup.ErrPaymentMethodNotFound) ||
		errors.Is(err, ingest.ErrStatusNotConfigured)
}

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound) ||
		errors.Is(err, products.ErrProductNotFound) ||
		errors.Is(err, products.ErrClientNotFound) ||
		errors.Is(err, products.ErrStatusNotFound) ||
		errors.Is(err, pickup.ErrClientNotFound)
}
