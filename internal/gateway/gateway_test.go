package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuspay/fepgate/internal/endpoint"
	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/pipeline"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
	"github.com/nexuspay/fepgate/pkg/store/transaction/memory"
)

func newTestGateway(t *testing.T) (*Gateway, transaction.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	p := pipeline.New(repo, pipeline.DefaultRouter(repo), nil, 5*time.Minute)
	return New(p, nil), repo
}

func withdrawal(stan string) *iso8583.Message {
	return iso8583.NewMessage("0200").
		SetN(iso8583.FieldPAN, "4111111111111111").
		SetN(iso8583.FieldProcessingCode, "010000").
		SetN(iso8583.FieldAmount, "000000005000").
		SetN(iso8583.FieldStan, stan).
		SetN(iso8583.FieldRrn, "000000000777").
		SetN(iso8583.FieldTerminalID, "ATM00007")
}

func TestHandleFinancialRequest(t *testing.T) {
	gw, repo := newTestGateway(t)
	handler := gw.Handler()

	resp := handler(context.Background(), "fisc-primary", withdrawal("000111"))
	require.NotNil(t, resp)
	assert.Equal(t, "0210", resp.MTI)
	assert.Equal(t, "00", resp.FieldN(iso8583.FieldResponseCode))
	assert.Equal(t, "000111", resp.Stan())

	rec, err := repo.FindByRrnAndStan(context.Background(), "000000000777", "000111")
	require.NoError(t, err)
	assert.Equal(t, "fisc-primary", rec.Channel)
	assert.Equal(t, transaction.StatusApproved, rec.Status)
}

func TestHandleNetworkManagement(t *testing.T) {
	gw, _ := newTestGateway(t)
	handler := gw.Handler()

	for _, code := range []string{endpoint.NetMgmtSignOn, endpoint.NetMgmtSignOff, endpoint.NetMgmtEcho} {
		req := iso8583.NewMessage("0800").
			SetN(iso8583.FieldStan, "000200").
			SetN(iso8583.FieldNetMgmtCode, code)

		resp := handler(context.Background(), "fisc-primary", req)
		require.NotNil(t, resp)
		assert.Equal(t, "0810", resp.MTI)
		assert.Equal(t, "00", resp.FieldN(iso8583.FieldResponseCode))
		assert.Equal(t, code, resp.FieldN(iso8583.FieldNetMgmtCode))
		assert.Equal(t, "000200", resp.Stan())
	}
}

func TestHandleUnknownNetMgmtCode(t *testing.T) {
	gw, _ := newTestGateway(t)

	req := iso8583.NewMessage("0800").
		SetN(iso8583.FieldStan, "000201").
		SetN(iso8583.FieldNetMgmtCode, "999")

	resp := gw.Handler()(context.Background(), "fisc-primary", req)
	require.NotNil(t, resp)
	assert.Equal(t, "12", resp.FieldN(iso8583.FieldResponseCode))
}

func TestHandleMalformedAmount(t *testing.T) {
	gw, repo := newTestGateway(t)

	req := withdrawal("000112").SetN(iso8583.FieldAmount, "not-a-number")
	resp := gw.Handler()(context.Background(), "fisc-primary", req)
	require.NotNil(t, resp)
	assert.Equal(t, "0210", resp.MTI)
	assert.Equal(t, "30", resp.FieldN(iso8583.FieldResponseCode))

	// Rejected before a record existed: nothing persisted.
	_, err := repo.FindByRrnAndStan(context.Background(), "000000000777", "000112")
	assert.ErrorIs(t, err, transaction.ErrNotFound)
}

func TestHandleNilMessage(t *testing.T) {
	gw, _ := newTestGateway(t)
	assert.Nil(t, gw.Handler()(context.Background(), "fisc-primary", nil))
}
