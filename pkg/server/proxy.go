package server

import (
	"github.com/NeuralTrust/TrustGuard/pkg/config"
	"github.com/NeuralTrust/TrustGuard/pkg/server/router"
	"github.com/sirupsen/logrus"
)

type (
	ProxyServerDI struct {
		Config  *config.Config
		Logger  *logrus.Logger
		Routers []router.ServerRouter
	}
	ProxyServer struct {
		*BaseServer
	}
)

func NewProxyServer(di ProxyServerDI) *ProxyServer {
	return &ProxyServer{
		BaseServer: NewBaseServer(di.Config, di.Logger).WithRouters(di.Routers...),
	}
}

func (s *ProxyServer) Run() error {
	return s.listen("proxy", s.Config.Server.ProxyPort)
}
