package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	sensordomain "github.com/smallbiznis/parkway/internal/sensor/domain"
)

type registerSensorRequest struct {
	GarageID snowflake.ID      `json:"garage_id"`
	Type     sensordomain.Type `json:"type"`
}

func (s *Server) RegisterSensor(c *gin.Context) {
	var req registerSensorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sensor, err := s.sensorSvc.Register(c.Request.Context(), sensordomain.RegisterRequest{
		CallerID: callerID(c),
		GarageID: req.GarageID,
		Type:     req.Type,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": sensor})
}

func (s *Server) GetSensorByID(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sensor, err := s.sensorSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sensor})
}

func (s *Server) ListGarageSensors(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sensors, err := s.sensorSvc.ListByGarage(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sensors})
}

type updateSensorStatusRequest struct {
	Status          sensordomain.Status `json:"status"`
	LastMaintenance *time.Time          `json:"last_maintenance"`
}

func (s *Server) UpdateSensorStatus(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req updateSensorStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sensor, err := s.sensorSvc.SetStatus(c.Request.Context(), sensordomain.SetStatusRequest{
		CallerID:        callerID(c),
		SensorID:        id,
		Status:          req.Status,
		LastMaintenance: req.LastMaintenance,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sensor})
}

type sensorReportRequest struct {
	IsOccupied *bool         `json:"is_occupied"`
	Timestamp  time.Time     `json:"timestamp"`
	BookingID  *snowflake.ID `json:"booking_id"`
}

func (s *Server) ReportSensor(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req sensorReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.IsOccupied == nil {
		AbortWithError(c, newValidationError("is_occupied", "required", "is_occupied is required"))
		return
	}

	ack, err := s.sensorSvc.ReportStatus(c.Request.Context(), sensordomain.ReportRequest{
		CallerID:   callerID(c),
		SensorID:   id,
		IsOccupied: *req.IsOccupied,
		Timestamp:  req.Timestamp,
		BookingID:  req.BookingID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": ack})
}
