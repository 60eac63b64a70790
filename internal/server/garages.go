package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	availabilitydomain "github.com/smallbiznis/parkway/internal/availability/domain"
	garagedomain "github.com/smallbiznis/parkway/internal/garage/domain"
)

func (s *Server) CreateGarage(c *gin.Context) {
	var req garagedomain.CreateGarageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CallerID = callerID(c)

	garage, err := s.garageSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": garage})
}

func (s *Server) GetGarageByID(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	garage, err := s.garageSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": garage})
}

func (s *Server) SearchGarages(c *gin.Context) {
	req := garagedomain.SearchRequest{City: strings.TrimSpace(c.Query("city"))}

	minSpots, err := parseOptionalInt64(c.Query("min_available_spots"))
	if err != nil {
		AbortWithError(c, newValidationError("min_available_spots", "invalid_min_available_spots", "invalid min_available_spots"))
		return
	}
	if minSpots != nil {
		v := int(*minSpots)
		req.MinAvailableSpots = &v
	}

	activeOnly, err := parseOptionalBool(c.Query("active_only"))
	if err != nil {
		AbortWithError(c, newValidationError("active_only", "invalid_active_only", "invalid active_only"))
		return
	}
	req.ActiveOnly = activeOnly == nil || *activeOnly

	garages, err := s.garageSvc.Search(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": garages})
}

func (s *Server) ToggleGarage(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	garage, err := s.garageSvc.ToggleStatus(c.Request.Context(), garagedomain.ToggleStatusRequest{
		CallerID: callerID(c),
		GarageID: id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": garage})
}

type garageAvailabilityResponse struct {
	GarageID       string `json:"garage_id"`
	AvailableSpots int    `json:"available_spots"`
	HasFreeSpot    bool   `json:"has_free_spot"`
	WindowFree     *int   `json:"window_free,omitempty"`
}

// GetGarageAvailability reports the live counter, plus the free count for
// a window when start and end are given.
func (s *Server) GetGarageAvailability(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	garage, err := s.garageSvc.GetByID(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	hasFree, err := s.availabilitySvc.HasFreeSpot(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp := garageAvailabilityResponse{
		GarageID:       garage.ID.String(),
		AvailableSpots: garage.AvailableSpots,
		HasFreeSpot:    hasFree,
	}

	if c.Query("start") != "" || c.Query("end") != "" {
		start, err := parseRequiredTime(c, "start")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		end, err := parseRequiredTime(c, "end")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		free, err := s.availabilitySvc.WindowAvailability(ctx, id, start, end)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resp.WindowFree = &free
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SearchAvailability(c *gin.Context) {
	start, err := parseRequiredTime(c, "start")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	end, err := parseRequiredTime(c, "end")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	lat, err := parseOptionalFloat(c.Query("lat"))
	if err != nil || lat == nil {
		AbortWithError(c, newValidationError("lat", "invalid_lat", "invalid lat"))
		return
	}
	lng, err := parseOptionalFloat(c.Query("lng"))
	if err != nil || lng == nil {
		AbortWithError(c, newValidationError("lng", "invalid_lng", "invalid lng"))
		return
	}
	maxDistance, err := parseOptionalFloat(c.Query("max_distance_km"))
	if err != nil {
		AbortWithError(c, newValidationError("max_distance_km", "invalid_max_distance", "invalid max_distance_km"))
		return
	}

	results, err := s.availabilitySvc.Search(c.Request.Context(), availabilitydomain.SearchRequest{
		Start:         start,
		End:           end,
		Latitude:      *lat,
		Longitude:     *lng,
		MaxDistanceKm: maxDistance,
		City:          strings.TrimSpace(c.Query("city")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

func (s *Server) ListGarageBookings(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	bookings, err := s.bookingSvc.ListByGarage(c.Request.Context(), id, callerID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bookings})
}
