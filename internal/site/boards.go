package site

import (
	"regexp"

	"github.com/spigell/autoapply/internal/page"
)

// Job card fields extracted by Selectors.JobList.
const (
	fieldID       = "id"
	fieldTitle    = "title"
	fieldCompany  = "company"
	fieldLocation = "location"
	fieldURL      = "url"
)

// Selectors parameterize Board for one job board.
type Selectors struct {
	Name       string
	BaseURL    string
	SearchPath string

	KeywordsParam string
	LocationParam string
	PageParam     string
	// PageSize turns the page number into a result offset when positive.
	PageSize        int
	EasyApplyParams map[string]string

	// JobList extracts job cards; see the field* keys.
	JobList page.ExtractSpec
	// JobIDPattern extracts the job id from the card URL when the card carries no id attribute.
	JobIDPattern *regexp.Regexp
	// JobCardLink is a format string taking the job id.
	JobCardLink    string
	OpenByNavigate bool
	JobDetail      string

	InPageApply   []string
	ExternalApply []string
	// InPageMarkers, when set, must appear in the apply control text of an in-page flow.
	InPageMarkers   []string
	ExternalMarkers []string

	Form     string
	NextPage string
}

var LinkedIn = Selectors{
	Name:            "linkedin",
	BaseURL:         "https://www.linkedin.com",
	SearchPath:      "/jobs/search/",
	KeywordsParam:   "keywords",
	LocationParam:   "location",
	PageParam:       "start",
	PageSize:        25,
	EasyApplyParams: map[string]string{"f_AL": "true"},
	JobList: page.ExtractSpec{
		Container: "li[data-occludable-job-id]",
		Fields: map[string]page.Extractor{
			fieldID:       {Attr: "data-occludable-job-id"},
			fieldTitle:    {Selector: ".job-card-list__title, a.job-card-container__link"},
			fieldCompany:  {Selector: ".artdeco-entity-lockup__subtitle, .job-card-container__primary-description"},
			fieldLocation: {Selector: ".job-card-container__metadata-item, .artdeco-entity-lockup__caption"},
			fieldURL:      {Selector: "a.job-card-container__link, a.job-card-list__title", Attr: "href"},
		},
	},
	JobIDPattern:    regexp.MustCompile(`/jobs/view/(\d+)`),
	JobCardLink:     `li[data-occludable-job-id="%[1]s"] a.job-card-container__link`,
	JobDetail:       ".jobs-search__job-details--container, .jobs-details, .job-view-layout",
	InPageApply:     []string{"button.jobs-apply-button"},
	InPageMarkers:   []string{"easy apply"},
	ExternalMarkers: []string{"company website", "company site"},
	Form:            ".jobs-easy-apply-modal, div[data-test-modal][role='dialog']",
	NextPage:        "button[aria-label='View next page']",
}

var Indeed = Selectors{
	Name:            "indeed",
	BaseURL:         "https://www.indeed.com",
	SearchPath:      "/jobs",
	KeywordsParam:   "q",
	LocationParam:   "l",
	PageParam:       "start",
	PageSize:        10,
	EasyApplyParams: map[string]string{"sc": "0kf:attr(DSQF7);"},
	JobList: page.ExtractSpec{
		Container: "div.job_seen_beacon",
		Fields: map[string]page.Extractor{
			fieldID:       {Selector: "a[data-jk]", Attr: "data-jk"},
			fieldTitle:    {Selector: "h2.jobTitle span[title], h2.jobTitle"},
			fieldCompany:  {Selector: "[data-testid='company-name']"},
			fieldLocation: {Selector: "[data-testid='text-location']"},
			fieldURL:      {Selector: "h2.jobTitle a", Attr: "href"},
		},
	},
	JobIDPattern:    regexp.MustCompile(`[?&]jk=([0-9a-f]+)`),
	JobCardLink:     `a[data-jk="%[1]s"]`,
	JobDetail:       "#jobsearch-ViewjobPaneWrapper, .jobsearch-JobComponent",
	InPageApply:     []string{"#indeedApplyButton", "button[id*='indeedApplyButton']"},
	ExternalApply:   []string{"#applyButtonLinkContainer button", "button[aria-label*='company site']"},
	ExternalMarkers: []string{"company site", "company website"},
	Form:            "#ia-container, .ia-BasePage",
	NextPage:        "a[data-testid='pagination-page-next']",
}

var Glassdoor = Selectors{
	Name:            "glassdoor",
	BaseURL:         "https://www.glassdoor.com",
	SearchPath:      "/Job/jobs.htm",
	KeywordsParam:   "sc.keyword",
	LocationParam:   "locKeyword",
	PageParam:       "p",
	EasyApplyParams: map[string]string{"applicationType": "1"},
	JobList: page.ExtractSpec{
		Container: "li[data-test='jobListing']",
		Fields: map[string]page.Extractor{
			fieldID:       {Attr: "data-jobid"},
			fieldTitle:    {Selector: "[data-test='job-title']"},
			fieldCompany:  {Selector: "[class*='EmployerProfile_compactEmployerName']"},
			fieldLocation: {Selector: "[data-test='emp-location']"},
			fieldURL:      {Selector: "a[data-test='job-link'], a[data-test='job-title']", Attr: "href"},
		},
	},
	JobIDPattern:    regexp.MustCompile(`jobListingId=(\d+)`),
	JobCardLink:     `li[data-jobid="%[1]s"] [data-test='job-title']`,
	JobDetail:       "[class*='JobDetails_jobDetailsContainer'], [data-test='job-details']",
	InPageApply:     []string{"button[data-test='easyApply']"},
	ExternalApply:   []string{"button[data-test='applyButton']", "a[data-test='applyButton']"},
	ExternalMarkers: []string{"company site", "company website"},
	Form:            "#ia-container, div[role='dialog']",
	NextPage:        "button[data-test='load-more'], button[data-test='pagination-next']",
}
