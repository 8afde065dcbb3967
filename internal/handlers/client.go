package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/models"
)

type ClientHandler struct{}

func NewClientHandler() *ClientHandler {
	return &ClientHandler{}
}

type CreateClientRequest struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
	Phone        string `json:"phone"`
	Company      string `json:"company"`
	Note         string `json:"note"`
}

// Create registers a new client tenant
func (h *ClientHandler) Create(c *fiber.Ctx) error {
	var req CreateClientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "name is required",
		})
	}

	client := models.Client{
		Name:         req.Name,
		ContactEmail: strings.TrimSpace(req.ContactEmail),
		Phone:        req.Phone,
		Company:      req.Company,
		Note:         req.Note,
		IsActive:     true,
	}

	err := database.Execute(func() error {
		return database.DB.Create(&client).Error
	})
	if err != nil {
		return serviceError(c, err, "Failed to create client")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"client":  client,
	})
}

// List returns all clients, optionally filtered by a name search
func (h *ClientHandler) List(c *fiber.Ctx) error {
	query := database.DB.Model(&models.Client{})

	if search := strings.TrimSpace(c.Query("search", "")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(contact_email) LIKE ?", pattern, pattern)
	}

	var clients []models.Client
	err := database.Execute(func() error {
		return query.Order("name asc").Find(&clients).Error
	})
	if err != nil {
		return serviceError(c, err, "Failed to fetch clients")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    clients,
	})
}
