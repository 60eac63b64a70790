package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	bookingdomain "github.com/smallbiznis/parkway/internal/booking/domain"
)

func (s *Server) CreateBooking(c *gin.Context) {
	var req bookingdomain.CreateBookingRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = callerID(c)

	booking, err := s.bookingSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": booking})
}

func (s *Server) ListBookings(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	bookings, err := s.bookingSvc.ListByUser(c.Request.Context(), callerID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bookings})
}

func (s *Server) GetBookingByID(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	booking, err := s.bookingSvc.GetByID(c.Request.Context(), id, callerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": booking})
}

func (s *Server) CancelBooking(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	booking, err := s.bookingSvc.Cancel(c.Request.Context(), bookingdomain.CancelBookingRequest{
		BookingID: id,
		CallerID:  callerID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": booking})
}

func (s *Server) GetBookingReceipt(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.bookingSvc.Receipt(c.Request.Context(), id, callerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", "receipt-"+id.String()+".pdf"))
	c.Data(http.StatusOK, "application/pdf", doc)
}

// ListBookingTokens goes through the booking read so only the owner or
// staff can see gate codes.
func (s *Server) ListBookingTokens(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	if _, err := s.bookingSvc.GetByID(ctx, id, callerID(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	tokens, err := s.tokenSvc.ListActiveByBooking(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tokens})
}
