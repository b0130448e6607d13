package payment

import (
	"github.com/smallbiznis/coursepay/internal/payment/gateway"
	"github.com/smallbiznis/coursepay/internal/payment/repository"
	"github.com/smallbiznis/coursepay/internal/payment/service"
	"github.com/smallbiznis/coursepay/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(gateway.NewClient),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
