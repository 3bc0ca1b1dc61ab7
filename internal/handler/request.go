package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
	"github.com/noah-isme/fleet-trip-api/pkg/response"
)

// tripQueryFromContext collects page, limit and any per-field filters keyed by the
// trip field registry. Repeated parameters become an OR list for that field.
func tripQueryFromContext(c *gin.Context) dto.TripQuery {
	query := dto.TripQuery{
		Fields: make(map[string][]string),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
	}
	for _, field := range models.TripFields() {
		for _, value := range c.QueryArray(field.Key) {
			if value = strings.TrimSpace(value); value != "" {
				query.Fields[field.Key] = append(query.Fields[field.Key], value)
			}
		}
	}
	return query
}

// queryInt reads an integer query parameter; malformed values fall back to 0 so
// the service applies its defaults.
func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return value
}

func writeFile(c *gin.Context, file *dto.ExportFile) {
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// bindJSON decodes the body into dest, answering 400 with msg on failure.
func bindJSON(c *gin.Context, dest interface{}, msg string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, msg))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, dest interface{}, msg string) bool {
	if err := c.ShouldBindQuery(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, msg))
		return false
	}
	return true
}
