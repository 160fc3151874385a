package verdict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/WilliamBenEmbarek/erdetkoldt/internal/cache"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/dmi"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/models"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/observability"
)

// ResponseCacheKey is the canonical internal URL identifying this endpoint.
// The cache is keyed on it rather than the inbound request URL, so every
// request shares one cached verdict.
const ResponseCacheKey = "https://erdetkoldt.dk/"

// cacheWriteTimeout bounds the background store so a hung cache cannot keep
// shutdown waiting forever.
const cacheWriteTimeout = 10 * time.Second

// Service answers the cold question for the configured point: cached
// serialized verdict when fresh, otherwise one upstream fetch, a unit
// conversion, a wind chill derivation, and a fire-and-forget cache store.
type Service struct {
	client    dmi.ForecastClient
	cache     cache.Cache
	ttl       time.Duration
	threshold float64
	now       func() time.Time
	pending   *writeTracker
}

// NewService creates a verdict Service. ttl is the response cache lifetime;
// threshold is the feels-like temperature at or below which it is cold.
func NewService(client dmi.ForecastClient, cache cache.Cache, ttl time.Duration, threshold float64) *Service {
	return &Service{
		client:    client,
		cache:     cache,
		ttl:       ttl,
		threshold: threshold,
		now:       time.Now,
		pending:   &writeTracker{},
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// Current returns the serialized verdict JSON. Cache hits return the stored
// bytes unchanged, so repeated requests within the TTL are byte-identical.
// On a miss the upstream is called once, the verdict is built and returned,
// and the bytes are stored in the background without blocking the caller.
func (s *Service) Current(ctx context.Context) ([]byte, bool, error) {
	logger := loggerFromContext(ctx)

	cached, ok, err := s.cache.Get(ctx, ResponseCacheKey)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		if logger != nil {
			logger.Warn("cache get failed", zap.Error(err))
		}
	} else if ok {
		observability.CacheHitsTotal.Inc()
		if logger != nil {
			logger.Debug("verdict served from cache")
		}
		return cached, true, nil
	}

	window := models.NewQueryWindow(s.now())
	forecast, err := s.client.GetForecast(ctx, window)
	if err != nil {
		return nil, false, fmt.Errorf("fetch forecast: %w", err)
	}

	v, err := s.buildVerdict(forecast)
	if err != nil {
		return nil, false, err
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("marshal verdict: %w", err)
	}

	s.storeAsync(body, logger)
	if logger != nil {
		logger.Debug("verdict computed",
			zap.String("temperature", v.Temperature),
			zap.String("feelsLike", v.FeelsLike),
			zap.Bool("isKoldt", v.IsKoldt))
	}
	return body, false, nil
}

// buildVerdict converts the raw forecast to the outbound verdict. The
// temperature parameter is required; wind speed defaults to 0 m/s.
func (s *Service) buildVerdict(forecast *dmi.Forecast) (models.Verdict, error) {
	kelvin, ok := forecast.FirstValue(dmi.ParamTemperature)
	if !ok {
		return models.Verdict{}, fmt.Errorf("%w: missing %s values", dmi.ErrParse, dmi.ParamTemperature)
	}
	wind, _ := forecast.FirstValue(dmi.ParamWindSpeed)

	timestamp, ok := forecast.FirstTimestamp()
	if !ok {
		return models.Verdict{}, fmt.Errorf("%w: missing time axis", dmi.ErrParse)
	}

	temp := KelvinToCelsius(kelvin)
	feelsLike := WindChill(temp, wind)

	return models.Verdict{
		Temperature: models.FormatValue(temp),
		FeelsLike:   models.FormatValue(feelsLike),
		IsKoldt:     feelsLike <= s.threshold,
		Timestamp:   timestamp,
		WindSpeed:   models.FormatValue(wind),
	}, nil
}

// storeAsync writes the serialized verdict to the cache without blocking the
// response. The write is tracked; WaitForPendingWrites drains it at shutdown.
func (s *Service) storeAsync(body []byte, logger *zap.Logger) {
	s.pending.Increment()
	go func() {
		defer s.pending.Decrement()
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := s.cache.Set(ctx, ResponseCacheKey, body, s.ttl); err != nil {
			observability.CacheErrorsTotal.WithLabelValues("set").Inc()
			if logger != nil {
				logger.Warn("cache set failed", zap.Error(err))
			}
		}
	}()
}

// PendingWrites returns the number of background cache writes in flight.
func (s *Service) PendingWrites() int64 {
	return s.pending.Count()
}

// WaitForPendingWrites blocks until all background cache writes complete or
// ctx is done. Called during graceful shutdown.
func (s *Service) WaitForPendingWrites(ctx context.Context, checkInterval time.Duration) error {
	return s.pending.WaitForZero(ctx, checkInterval)
}
