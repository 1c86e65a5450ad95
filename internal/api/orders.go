package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/orders"
)

type createOrderRequest struct {
	PhoneNumber string               `json:"phoneNumber"`
	Address     string               `json:"address"`
	Items       []orders.LineRequest `json:"items"`
}

type statusRequest struct {
	Status models.OrderStatus `json:"status"`
}

func (s *Server) listOrders(c *gin.Context) {
	list, err := s.orders.List()
	if err != nil {
		slog.Error("Server.listOrders: list failed", "error", err)
		writeError(c, err)
		return
	}
	if list == nil {
		list = []models.Order{}
	}
	writeJSON(c, http.StatusOK, models.Success(list))
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.orders.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, models.Success(o))
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	o, err := s.orders.Create(c.Request.Context(), req.PhoneNumber, req.Items, req.Address)
	if err != nil {
		slog.Warn("Server.createOrder: create failed", "phone", req.PhoneNumber, "error", err)
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, models.SuccessWithMessage("Order created", o))
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	o, err := s.orders.UpdateStatus(c.Param("id"), req.Status)
	if err != nil {
		slog.Warn("Server.updateOrderStatus: update failed", "orderID", c.Param("id"), "error", err)
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, models.SuccessWithMessage("Order status updated", o))
}
