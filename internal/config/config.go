package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Log       LogConfig
	Mimir     MimirConfig
	Scheduler SchedulerConfig
	Probes    ProbesConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL             string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig is optional. An empty URL disables the scheduler job lock.
type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level  string
	Format string
}

type MimirConfig struct {
	URL           string
	TenantHeader  string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

type SchedulerConfig struct {
	Timezone     string
	Jobs         map[string]string
	CheckTimeout time.Duration
	RatePerSec   float64
	LockTTL      time.Duration
}

type ProbesConfig struct {
	HTTPTimeout       time.Duration
	UserAgent         string
	MaxBodyBytes      int64
	DNSServer         string
	DNSTimeout        time.Duration
	WHOISTimeout      time.Duration
	BlacklistTimeout  time.Duration
	BlacklistParallel int
	LoadTimeBudget    float64
	Blacklists        []string
}

type NotifyConfig struct {
	SendGridAPIKey  string
	FromEmail       string
	FromName        string
	SlackWebhookURL string
}

func Load() (*Config, error) {
	// .env is a convenience for local runs; missing file is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MONITRIX")
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Mimir.AuthToken = token
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		cfg.Notify.SendGridAPIKey = key
	}

	if len(cfg.Probes.Blacklists) == 0 {
		cfg.Probes.Blacklists = DefaultBlacklists()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("database.connmaxlifetime", "5m")
	v.SetDefault("database.automigrate", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("mimir.tenantheader", "X-Scope-OrgID")
	v.SetDefault("mimir.batchsize", 1000)
	v.SetDefault("mimir.flushinterval", "30s")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.jobs", map[string]string{
		"blacklist": "0 1 * * *",
		"ssl":       "0 2 * * *",
		"domain":    "0 3 * * *",
		"website":   "*/5 * * * *",
	})
	v.SetDefault("scheduler.checktimeout", "60s")
	v.SetDefault("scheduler.ratepersec", 2.0)
	v.SetDefault("scheduler.lockttl", "30m")
	v.SetDefault("probes.httptimeout", "30s")
	v.SetDefault("probes.useragent", "Monitrix/1.0")
	v.SetDefault("probes.maxbodybytes", 1024*1024)
	v.SetDefault("probes.dnsserver", "8.8.8.8:53")
	v.SetDefault("probes.dnstimeout", "5s")
	v.SetDefault("probes.whoistimeout", "15s")
	v.SetDefault("probes.blacklisttimeout", "5s")
	v.SetDefault("probes.blacklistparallel", 0)
	v.SetDefault("probes.loadtimebudget", 3.0)
	v.SetDefault("notify.fromname", "Monitrix")
}

// DefaultBlacklists is the DNSBL zone list used when neither the config file
// nor the blacklist_servers table provides one.
func DefaultBlacklists() []string {
	return []string{
		"access.redhawk.org",
		"all.rbl.webiron.net",
		"all.spamrats.com",
		"b.barracudacentral.org",
		"bl.blocklist.de",
		"bl.konstant.no",
		"bl.mailspike.net",
		"bl.nosolicitado.org",
		"bl.spamcop.net",
		"bl.spameatingmonkey.net",
		"bl.spamstinks.com",
		"blackholes.five-ten-sg.com",
		"blacklist.woody.ch",
		"bogons.cymru.com",
		"cbl.abuseat.org",
		"cdl.anti-spam.org.cn",
		"combined.abuse.ch",
		"db.wpbl.info",
		"dnsbl-1.uceprotect.net",
		"dnsbl-2.uceprotect.net",
		"dnsbl-3.uceprotect.net",
		"dnsbl.anticaptcha.net",
		"dnsbl.cyberlogic.net",
		"dnsbl.dronebl.org",
		"dnsbl.inps.de",
		"dnsbl.sorbs.net",
		"dnsbl.spfbl.net",
		"dnsbl.zapbl.net",
		"dnsrbl.org",
		"drone.abuse.ch",
		"duinv.aupads.org",
		"dul.dnsbl.sorbs.net",
		"dul.ru",
		"dyna.spamrats.com",
		"dynip.rothen.com",
		"exitnodes.tor.dnsbl.sectoor.de",
		"hostkarma.junkemailfilter.com",
		"http.dnsbl.sorbs.net",
		"ips.backscatterer.org",
		"ix.dnsbl.manitu.net",
		"korea.services.net",
		"misc.dnsbl.sorbs.net",
		"noptr.spamrats.com",
		"ohps.dnsbl.net.au",
		"omrs.dnsbl.net.au",
		"orvedb.aupads.org",
		"osps.dnsbl.net.au",
		"osrs.dnsbl.net.au",
		"owfs.dnsbl.net.au",
		"owps.dnsbl.net.au",
		"pbl.spamhaus.org",
		"phishing.rbl.msrbl.net",
		"probes.dnsbl.net.au",
		"proxies.dnsbl.net.au",
		"proxy.bl.gweep.ca",
		"psbl.surriel.com",
		"rbl.interserver.net",
		"rbl.megarbl.net",
		"rbl.nifty.com",
		"rbl.realtimeblacklist.com",
		"rbl.talkactive.net",
		"rbl2.triumf.ca",
		"relays.bl.gweep.ca",
		"residential.block.transip.nl",
		"ricn.dnsbl.net.au",
		"rmst.dnsbl.net.au",
		"sbl.spamhaus.org",
		"smtp.dnsbl.sorbs.net",
		"socks.dnsbl.sorbs.net",
		"spam.abuse.ch",
		"spam.dnsbl.sorbs.net",
		"spam.rbl.blockedservers.com",
		"spam.spamrats.com",
		"spambot.bls.digibase.ca",
		"spamrbl.imp.ch",
		"spamsources.fabel.dk",
	}
}
