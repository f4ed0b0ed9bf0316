package utils

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type PaginationParams struct {
	Limit  int `json:"limit" form:"limit"`
	Offset int `json:"offset" form:"offset"`
}

func GetPaginationParams(c *gin.Context) *PaginationParams {
	return GetPaginationParamsWithDefault(c, DefaultPageSize)
}

func GetPaginationParamsWithDefault(c *gin.Context, defaultLimit int) *PaginationParams {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		offset = 0
	}

	if limit < MinPageSize {
		limit = MinPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return &PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// GetDateRange reads optional RFC3339 start_date/end_date query parameters.
func GetDateRange(c *gin.Context) (*time.Time, *time.Time, error) {
	start, err := parseOptionalTime(c.Query("start_date"))
	if err != nil {
		return nil, nil, err
	}
	end, err := parseOptionalTime(c.Query("end_date"))
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func parseOptionalTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
