package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/ShopPipe/internal/importer"
	"github.com/BTreeMap/ShopPipe/internal/models"
)

// productRequest is the body of POST and PUT /products. Active defaults to
// true when omitted.
type productRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Price    int64  `json:"price_cents"`
	Unit     string `json:"unit"`
	ImageURL string `json:"image_url"`
	Stock    int    `json:"stock"`
	Active   *bool  `json:"active"`
}

func (r productRequest) product(id int64) models.Product {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return models.Product{
		ID:       id,
		Code:     r.Code,
		Name:     r.Name,
		Price:    r.Price,
		Unit:     r.Unit,
		ImageURL: r.ImageURL,
		Stock:    r.Stock,
		Active:   active,
	}
}

func productID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(c, http.StatusBadRequest, models.Error("invalid product id"))
		return 0, false
	}
	return id, true
}

func (s *Server) listProducts(c *gin.Context) {
	products, err := s.products.ActiveProducts(c.Request.Context())
	if err != nil {
		slog.Error("Server.listProducts: list failed", "error", err)
		writeError(c, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	writeJSON(c, http.StatusOK, models.Success(products))
}

func (s *Server) createProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	p, err := s.products.Create(c.Request.Context(), req.product(0))
	if err != nil {
		slog.Warn("Server.createProduct: create failed", "error", err)
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, models.SuccessWithMessage("Product created", p))
}

func (s *Server) updateProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	p, err := s.products.Update(c.Request.Context(), req.product(id))
	if err != nil {
		slog.Warn("Server.updateProduct: update failed", "id", id, "error", err)
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, models.SuccessWithMessage("Product updated", p))
}

func (s *Server) deleteProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	if err := s.products.Deactivate(c.Request.Context(), id); err != nil {
		slog.Warn("Server.deleteProduct: deactivate failed", "id", id, "error", err)
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, models.SuccessWithMessage("Product deactivated", nil))
}

// importProducts accepts a multipart upload in the "file" field, or the
// older "pdf" field.
func (s *Server) importProducts(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		fh, err = c.FormFile("pdf")
	}
	if err != nil {
		writeJSON(c, http.StatusBadRequest, models.Error("multipart field \"file\" is required"))
		return
	}
	format, err := importer.DetectFormat(fh.Filename, fh.Header.Get("Content-Type"))
	if err != nil {
		writeError(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		slog.Error("Server.importProducts: open upload failed", "error", err)
		writeError(c, err)
		return
	}
	defer f.Close()

	res, err := s.importer.Import(c.Request.Context(), format, f)
	if err != nil {
		slog.Warn("Server.importProducts: import failed", "file", fh.Filename, "error", err)
		if errors.Is(err, importer.ErrUnsupportedFormat) {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusUnprocessableEntity, models.Error("could not import file: "+err.Error()))
		return
	}
	slog.Info("Server.importProducts: import done", "file", fh.Filename, "format", format,
		"created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	writeJSON(c, http.StatusOK, models.SuccessWithMessage("Import completed", res))
}
