package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/models"
)

// LinkExpiryService deactivates upload links past their deadline and warns
// clients whose links expire within the next 24 hours. Runs once per day at
// the configured hour (default 08:00); link auth enforces expiry on every
// request regardless, so the sweep only keeps the stored flags honest.
type LinkExpiryService struct {
	email     *EmailService
	runHour   int
	stopChan  chan struct{}
	wg        sync.WaitGroup
	lastRunAt time.Time
}

// test seam
var expiryNow = time.Now

func NewLinkExpiryService(email *EmailService, runHour int) *LinkExpiryService {
	if runHour < 0 || runHour > 23 {
		runHour = 8
	}
	return &LinkExpiryService{
		email:    email,
		runHour:  runHour,
		stopChan: make(chan struct{}),
	}
}

// Start begins the daily sweep scheduler
func (s *LinkExpiryService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Println("LinkExpiryService started")

		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.checkAndRun()
			case <-s.stopChan:
				log.Println("LinkExpiryService stopped")
				return
			}
		}
	}()
}

// Stop stops the expiry sweep service
func (s *LinkExpiryService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// checkAndRun fires the sweep once per day at the configured hour
func (s *LinkExpiryService) checkAndRun() {
	now := expiryNow()
	if now.Hour() != s.runHour || now.Minute() != 0 {
		return
	}

	// Prevent double-firing within the same minute
	todayRun := time.Date(now.Year(), now.Month(), now.Day(), s.runHour, 0, 0, 0, now.Location())
	if !s.lastRunAt.IsZero() && s.lastRunAt.After(todayRun.Add(-1*time.Minute)) {
		return
	}
	s.lastRunAt = now

	log.Printf("LinkExpiryService: Running sweep at %02d:00", s.runHour)
	s.Sweep(now)
}

// Sweep runs one pass: bulk-deactivate expired links, then send expiry
// warnings. Exposed so an operator can trigger it outside the schedule.
func (s *LinkExpiryService) Sweep(now time.Time) {
	s.deactivateExpired(now)
	s.sendExpiryWarnings(now)
}

// deactivateExpired flips is_active on every link past its deadline in one
// bulk update
func (s *LinkExpiryService) deactivateExpired(now time.Time) {
	err := database.Execute(func() error {
		result := database.DB.Model(&models.UploadLink{}).
			Where("expires_at < ? AND is_active = ?", now, true).
			Updates(map[string]interface{}{
				"is_active":      false,
				"deactivated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			log.Printf("LinkExpiryService: Deactivated %d expired upload links", result.RowsAffected)
		}
		return nil
	})
	if err != nil {
		log.Printf("ERROR: LinkExpiryService: Failed to deactivate expired links: %v", err)
	}
}

// sendExpiryWarnings emails clients whose active links expire within 24
// hours. WarningSentAt dedups so each link warns at most once; delivery is
// best effort and failures only log.
func (s *LinkExpiryService) sendExpiryWarnings(now time.Time) {
	if s.email == nil || !s.email.Configured() {
		return
	}

	var links []models.UploadLink
	err := database.Execute(func() error {
		return database.DB.Preload("Client").
			Where("is_active = ? AND warning_sent_at IS NULL AND expires_at > ? AND expires_at <= ?",
				true, now, now.Add(24*time.Hour)).
			Find(&links).Error
	})
	if err != nil {
		log.Printf("ERROR: LinkExpiryService: Failed to query expiring links: %v", err)
		return
	}
	if len(links) == 0 {
		return
	}

	log.Printf("LinkExpiryService: Sending expiry warnings for %d links", len(links))

	for i := range links {
		link := &links[i]
		if link.Client == nil || link.Client.ContactEmail == "" {
			log.Printf("LinkExpiryService: No contact email for link %s, skipping warning", link.ID)
			continue
		}

		subject := "Your document upload link expires soon"
		body := fmt.Sprintf(
			"Hello %s,\r\n\r\n"+
				"Your secure document upload link expires on %s. "+
				"Please submit any remaining documents before then.\r\n\r\n"+
				"If you have already uploaded everything, no action is needed.\r\n",
			link.Client.Name, link.ExpiresAt.Format("January 2, 2006 at 15:04 MST"))

		if err := s.email.SendEmail(link.Client.ContactEmail, subject, body, false); err != nil {
			log.Printf("LinkExpiryService: Warning email failed for link %s: %v", link.ID, err)
			continue
		}

		if err := database.DB.Model(link).Update("warning_sent_at", now).Error; err != nil {
			log.Printf("Warning: LinkExpiryService: Failed to record warning for link %s: %v", link.ID, err)
		}
	}
}
