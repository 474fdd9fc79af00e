package manifest

// DefaultManifest is the built-in three-tier stack: an API backend built
// from the working tree, a postgres database with persistent storage, and a
// redis cache. `stackd up` falls back to it when no manifest file exists.
const DefaultManifest = `services:
  backend:
    build:
      context: .
    ports:
      - "8000:8000"
    env_file:
      - .env
    environment:
      DATABASE_URL: postgresql://blog:blog@db:5432/blog
      REDIS_URL: redis://redis:6379/0
    depends_on:
      - db
      - redis
  db:
    image: postgres:16
    environment:
      POSTGRES_USER: blog
      POSTGRES_PASSWORD: blog
      POSTGRES_DB: blog
    volumes:
      - postgres_data:/var/lib/postgresql/data
  redis:
    image: redis:7
volumes:
  postgres_data:
`
