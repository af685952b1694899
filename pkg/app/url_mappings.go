package app

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/citylens/citylens/internal/controllers"
	"github.com/citylens/citylens/internal/middleware"

	"github.com/gin-gonic/gin"
)

func SetupMappings(app *Application) {
	v1 := app.Engine.Group("/v1")

	producer := v1.Group("", middleware.AuthMiddleware(app.Validator))
	{
		producer.POST("/runs", controllers.NewCreateRunController(app.Runs).Handle)
		producer.GET("/runs/:id", controllers.NewGetRunController(app.Runs, app.Presenter).Handle)
	}

	demo := v1.Group("/demo")
	{
		demo.GET("/featured",
			middleware.RateLimitDemo(app.RateLimiter, app.Config.RateLimit.Demo, "demo_featured"),
			controllers.NewDemoFeaturedController(app.Registry).Handle)
		demo.GET("/runs/:id",
			middleware.RateLimitDemo(app.RateLimiter, app.Config.RateLimit.Demo, "demo_run"),
			controllers.NewDemoRunController(app.Registry, app.Runs, app.Presenter).Handle)
	}

	app.Engine.GET("/health", controllers.NewHealthController(app.Redis).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
