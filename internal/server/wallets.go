package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	walletdomain "github.com/smallbiznis/parkway/internal/wallet/domain"
)

func (s *Server) CreateWallet(c *gin.Context) {
	var req walletdomain.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CallerID = callerID(c)
	if req.UserID == 0 {
		req.UserID = req.CallerID
	}

	wallet, err := s.walletSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": wallet})
}

func (s *Server) GetMyWallet(c *gin.Context) {
	wallet, err := s.walletSvc.GetByUserID(c.Request.Context(), callerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wallet})
}

func (s *Server) DepositWallet(c *gin.Context) {
	s.mutateWallet(c, s.walletSvc.Deposit)
}

func (s *Server) DebitWallet(c *gin.Context) {
	s.mutateWallet(c, s.walletSvc.Debit)
}

type walletMutation func(ctx context.Context, req walletdomain.MutationRequest) (walletdomain.Wallet, error)

func (s *Server) mutateWallet(c *gin.Context, mutate walletMutation) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req walletdomain.MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CallerID = callerID(c)
	req.WalletID = id

	wallet, err := mutate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wallet})
}

func (s *Server) ListWalletEntries(c *gin.Context) {
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

	entries, err := s.walletSvc.ListEntries(c.Request.Context(), id, callerID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
